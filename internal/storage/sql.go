package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (uuid,
                      port,
                      baud_rate,
                      log_path,
                      start_time)
VALUES (?, ?, ?, ?, ?)`

	updateSessionEndSQL = `
UPDATE sessions
SET end_time = ?
WHERE id = ?`

	selectSessionSQL = `
SELECT 
    id, 
    uuid, 
    port, 
    baud_rate, 
    log_path, 
    start_time, 
    end_time 
FROM sessions 
WHERE 
    id = ?`

	selectSessionsSQL = `
SELECT 
    id, 
    uuid, 
    port, 
    baud_rate, 
    log_path, 
    start_time, 
    end_time 
FROM sessions
ORDER BY start_time, id`

	insertSampleSQL = `
INSERT INTO samples (session_id,
                     captured_at,
                     temperature,
                     altitude,
                     pos_x,
                     pos_y,
                     roll,
                     pitch,
                     yaw,
                     gas)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSampleBoundsSQL = `
SELECT 
    COALESCE(MIN(captured_at), 0), 
    COALESCE(MAX(captured_at), 0)
FROM samples
WHERE session_id = ?`

	selectSamplesSQL = `
SELECT 
    captured_at, 
    temperature, 
    altitude, 
    pos_x, 
    pos_y, 
    roll, 
    pitch, 
    yaw, 
    gas
FROM samples
WHERE 
    session_id = ?
    AND captured_at BETWEEN ? AND ?
ORDER BY captured_at, id`
)

//go:embed schema.sql
var initSchemaSQL string

//go:embed indexes.sql
var initIndexesSQL string
