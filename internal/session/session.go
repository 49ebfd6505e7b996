package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/rocket-telemetry/internal/clock"
	"github.com/roman-kulish/rocket-telemetry/internal/history"
	"github.com/roman-kulish/rocket-telemetry/internal/link"
	"github.com/roman-kulish/rocket-telemetry/internal/storage"
	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

const (
	// DefaultStopTimeout bounds how long Disconnect waits for the read loop
	// before force-closing the link.
	DefaultStopTimeout = time.Second

	// DefaultEventBuffer is the capacity of the event channel.
	DefaultEventBuffer = 256
)

// ErrSessionActive is returned by Connect when the session is not Idle.
var ErrSessionActive = errors.New("session is already active")

// Status is a point-in-time view of the session for hosts.
type Status struct {
	State    ConnectionState `json:"state"`
	Port     string          `json:"port,omitempty"`
	BaudRate int             `json:"baudRate,omitempty"`
	LogPath  string          `json:"logPath"`
	LogOpen  bool            `json:"logOpen"`
}

// WithLogger sets the logger for the session and its log.
func WithLogger(logger *slog.Logger) func(*Session) {
	return func(s *Session) {
		s.logger = logger.With(slog.String("component", "session"))
	}
}

// WithClock sets the clock used to stamp samples.
func WithClock(c clock.Clock) func(*Session) {
	return func(s *Session) {
		s.clock = c
	}
}

// WithHistoryCapacity sets the number of points kept for live charts.
func WithHistoryCapacity(capacity int) func(*Session) {
	return func(s *Session) {
		s.historyCapacity = capacity
	}
}

// WithLogPath sets the initial session log destination. An empty path
// disables logging until Retarget is called.
func WithLogPath(path string) func(*Session) {
	return func(s *Session) {
		s.logPath = path
	}
}

// WithArchive records every connection and sample in archive.
func WithArchive(archive storage.Archive) func(*Session) {
	return func(s *Session) {
		s.archive = archive
	}
}

// WithStopTimeout sets how long Disconnect waits for the read loop.
func WithStopTimeout(d time.Duration) func(*Session) {
	return func(s *Session) {
		s.stopTimeout = d
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(size int) func(*Session) {
	return func(s *Session) {
		s.eventBuffer = size
	}
}

// WithTransitionHook registers fn to be called on every state change. fn runs
// with the session lock held and must not call back into the session.
func WithTransitionHook(fn func(from, to ConnectionState)) func(*Session) {
	return func(s *Session) {
		s.onTransition = fn
	}
}

// Session owns one link to the device. It runs the read loop, decodes lines,
// stamps samples and fans them out to the history buffer, the session log,
// the optional archive and the host.
type Session struct {
	opener  link.Opener
	logger  *slog.Logger
	clock   clock.Clock
	history *history.Buffer
	log     *storage.SessionLog
	archive storage.Archive
	events  chan Event

	historyCapacity int
	logPath         string
	stopTimeout     time.Duration
	eventBuffer     int
	onTransition    func(from, to ConnectionState)

	mu        sync.Mutex
	state     ConnectionState
	gen       uint64 // bumped whenever a connection is torn down
	port      string
	baud      int
	cancel    context.CancelFunc
	done      chan struct{}
	link      link.Link
	archiveID int64
	latest    *telemetry.Sample
	lastStamp time.Time
}

// New creates an Idle session that opens links with opener.
func New(opener link.Opener, options ...func(*Session)) (*Session, error) {
	s := &Session{
		opener:          opener,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		clock:           clock.Real(),
		historyCapacity: history.DefaultCapacity,
		stopTimeout:     DefaultStopTimeout,
		eventBuffer:     DefaultEventBuffer,
	}

	for _, option := range options {
		option(s)
	}

	buf, err := history.NewBuffer(s.historyCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating history buffer: %w", err)
	}
	if s.eventBuffer < 0 {
		return nil, fmt.Errorf("invalid event buffer size: %d", s.eventBuffer)
	}

	s.history = buf
	s.log = storage.NewSessionLog(s.logPath, storage.WithLogger(s.logger))
	s.events = make(chan Event, s.eventBuffer)
	return s, nil
}

// Events returns the channel lifecycle events and samples are delivered on.
// The host must keep draining it while the session is active.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Status returns the state together with the link and log parameters.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		State:    s.state,
		Port:     s.port,
		BaudRate: s.baud,
		LogPath:  s.log.Path(),
		LogOpen:  s.log.IsOpen(),
	}
}

// History returns a copy of the rolling temperature and gas series.
func (s *Session) History() history.Snapshot {
	return s.history.Snapshot()
}

// Latest returns the most recent sample, if any has been decoded.
func (s *Session) Latest() (telemetry.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil {
		return telemetry.Sample{}, false
	}
	return *s.latest, true
}

// Connect starts opening port at baud in the background. The outcome is
// reported as EventConnectionEstablished or EventConnectionLost.
func (s *Session) Connect(port string, baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return ErrSessionActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.port, s.baud = port, baud
	s.cancel, s.done = cancel, done
	s.setStateLocked(Connecting)

	go s.run(ctx, s.gen, port, baud, done)
	return nil
}

// Disconnect stops the read loop, waiting up to the stop timeout, then closes
// the link and the log. It never emits EventConnectionLost. Disconnecting an
// Idle session is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	gen, cancel, done := s.gen, s.cancel, s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.logger.Warn("read loop did not stop in time, closing link",
			slog.Duration("timeout", s.stopTimeout))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return nil // the loop tore the connection down itself
	}

	err := s.teardownLocked()
	s.setStateLocked(Idle)
	s.logger.Info("disconnected", slog.String("port", s.port))
	return err
}

// Retarget moves the session log to path. Rows already written are copied
// and later samples are appended there. When connected with no open log, the
// new destination is opened, which ends degraded logging.
func (s *Session) Retarget(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Retarget(path); err != nil {
		return fmt.Errorf("retargeting session log: %w", err)
	}

	if s.state == Connected && !s.log.IsOpen() {
		if err := s.log.Open(); err != nil {
			return fmt.Errorf("opening session log: %w", err)
		}
	}
	return nil
}

func (s *Session) run(ctx context.Context, gen uint64, port string, baud int, done chan<- struct{}) {
	defer close(done)

	logger := s.logger.With(slog.String("port", port), slog.Int("baud", baud))
	logger.Info("opening link...")

	l, err := s.opener.Open(port, baud)
	if err != nil {
		logger.Warn("opening link failed", slog.String("error", err.Error()))
		s.abort(ctx, gen, err)
		return
	}

	if !s.attach(ctx, gen, l) {
		_ = l.Close()
		return
	}

	logger.Info("link established")
	s.readLoop(ctx, gen, port, l)
}

// abort reports a failed open attempt and returns the session to Idle
// without passing through Lost.
func (s *Session) abort(ctx context.Context, gen uint64, err error) {
	s.mu.Lock()
	stale := s.gen != gen || ctx.Err() != nil
	s.mu.Unlock()

	if stale {
		return // Disconnect won the race and already returned to Idle
	}

	s.emit(ctx, Event{Type: EventConnectionLost, Err: err})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}

	_ = s.teardownLocked()
	s.setStateLocked(Idle)
}

func (s *Session) attach(ctx context.Context, gen uint64, l link.Link) bool {
	s.mu.Lock()

	if s.gen != gen || ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}

	s.link = l

	var logErr error
	if s.log.Path() != "" {
		logErr = s.log.Open()
	}

	if s.archive != nil {
		rec, err := s.archive.BeginSession(ctx, s.port, s.baud, s.log.Path())
		if err != nil {
			s.logger.Warn("archiving session failed", slog.String("error", err.Error()))
		} else {
			s.archiveID = rec.ID
		}
	}

	s.setStateLocked(Connected)
	s.mu.Unlock()

	s.emit(ctx, Event{Type: EventConnectionEstablished})

	if logErr != nil {
		s.logger.Warn("session log unavailable, samples will not be logged",
			slog.String("error", logErr.Error()))
		s.emit(ctx, Event{Type: EventLogWriteFailed, Err: logErr})
	}
	return true
}

func (s *Session) readLoop(ctx context.Context, gen uint64, port string, l link.Link) {
	reader := link.NewLineReader(l)

	for {
		line, err := reader.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // stop requested
			}
			s.lose(ctx, gen, &link.ReadError{Port: port, Err: err})
			return
		}

		sample, err := telemetry.Parse(line)
		if err != nil {
			if !errors.Is(err, telemetry.ErrBlankLine) {
				s.logger.Debug("discarding malformed line",
					slog.String("line", line),
					slog.String("error", err.Error()))
			}
			continue
		}

		s.dispatch(ctx, gen, sample)
	}
}

func (s *Session) dispatch(ctx context.Context, gen uint64, sample telemetry.Sample) {
	s.mu.Lock()

	if s.gen != gen || s.state != Connected {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	if now.Before(s.lastStamp) {
		now = s.lastStamp
	}
	s.lastStamp = now
	sample.CapturedAt = now

	s.latest = &sample
	s.history.Append(now, sample.Temperature, sample.Gas)

	var logErr error
	if s.log.IsOpen() {
		logErr = s.log.Append(sample)
	}

	if s.archiveID != 0 {
		if err := s.archive.StoreSample(ctx, s.archiveID, sample); err != nil {
			s.logger.Warn("archiving sample failed", slog.String("error", err.Error()))
		}
	}

	s.mu.Unlock()

	if logErr != nil {
		s.logger.Warn("writing session log failed", slog.String("error", logErr.Error()))
		s.emit(ctx, Event{Type: EventLogWriteFailed, Err: logErr})
	}

	s.emit(ctx, Event{Type: EventSampleDecoded, Sample: sample})
}

// lose moves a failed connection through Lost back to Idle, reporting the
// failure exactly once.
func (s *Session) lose(ctx context.Context, gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || !s.setStateLocked(Lost) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Warn("connection lost", slog.String("error", err.Error()))
	s.emit(ctx, Event{Type: EventConnectionLost, Err: err})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}

	if tErr := s.teardownLocked(); tErr != nil {
		s.logger.Debug("closing lost connection", slog.String("error", tErr.Error()))
	}
	s.setStateLocked(Idle)
}

// teardownLocked releases the link, the log and the archive session and
// invalidates the running loop. Must be called with s.mu held.
func (s *Session) teardownLocked() error {
	var errs []error

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if s.link != nil {
		if err := s.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing link: %w", err))
		}
		s.link = nil
	}

	if err := s.log.Close(); err != nil {
		errs = append(errs, err)
	}

	if s.archiveID != 0 {
		if err := s.archive.EndSession(context.Background(), s.archiveID, s.clock.Now()); err != nil {
			errs = append(errs, fmt.Errorf("ending archived session: %w", err))
		}
		s.archiveID = 0
	}

	s.gen++
	return errors.Join(errs...)
}

func (s *Session) setStateLocked(next ConnectionState) bool {
	prev := s.state
	if !prev.CanTransitionTo(next) {
		s.logger.Warn("invalid state transition attempted",
			slog.String("from", prev.String()),
			slog.String("to", next.String()))
		return false
	}

	s.state = next
	s.logger.Debug("state changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()))

	if s.onTransition != nil {
		s.onTransition(prev, next)
	}
	return true
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
		s.logger.Debug("dropping event after stop", slog.String("event", ev.Type.String()))
	}
}
