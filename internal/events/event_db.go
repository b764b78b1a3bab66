// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package events queues update-attempt events in a local sqlite database
// and flushes them to the report endpoint when one is configured. Queuing
// is best effort: a broken database never fails an update attempt.
package events

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type (
	// UpdateEvent is the persisted/reported form of one attempt milestone.
	UpdateEvent struct {
		Id         string `json:"id"`
		AttemptId  string `json:"attemptId"`
		DeviceUUID string `json:"deviceUuid"`
		DeviceName string `json:"deviceName"`
		DeviceTime string `json:"deviceTime"`
		Type       string `json:"type"`
		Remote     string `json:"remote,omitempty"`
		Outcome    string `json:"outcome,omitempty"`
		Bytes      int64  `json:"bytes,omitempty"`
		Error      string `json:"error,omitempty"`
	}
)

func CreateEventsTable(dbFilePath string) error {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	_, err = db.Exec("CREATE TABLE IF NOT EXISTS report_events(id INTEGER PRIMARY KEY, json_string TEXT NOT NULL);")
	if err != nil {
		return fmt.Errorf("failed to create report_events table: %w", err)
	}

	return nil
}

func SaveEvent(dbFilePath string, event *UpdateEvent) error {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	_, err = db.Exec("INSERT INTO report_events (json_string) VALUES (?);", string(eventJSON))
	if err != nil {
		return fmt.Errorf("failed to insert event into report_events: %w", err)
	}

	return nil
}

func DeleteEvents(dbFilePath string, maxId int) error {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	_, err = db.Exec("DELETE FROM report_events WHERE id <= ?;", maxId)
	if err != nil {
		return fmt.Errorf("failed to delete event from report_events: %w", err)
	}

	return nil
}

func GetEvents(dbFilePath string) ([]UpdateEvent, int, error) {
	db, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return nil, -1, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close database")
		}
	}()

	rows, err := db.Query("SELECT id, json_string FROM report_events;")
	if err != nil {
		return nil, -1, fmt.Errorf("failed to select events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Err(closeErr).Msgf("failed to close rows")
		}
	}()

	maxId := -1
	var eventsList []UpdateEvent
	for rows.Next() {
		var eventData string
		var id int
		if err := rows.Scan(&id, &eventData); err != nil {
			return nil, -1, fmt.Errorf("failed to scan event data: %w", err)
		}

		var event UpdateEvent
		if err := json.Unmarshal([]byte(eventData), &event); err != nil {
			return nil, -1, fmt.Errorf("failed to unmarshal event data: %w", err)
		}

		if maxId < id {
			maxId = id
		}
		eventsList = append(eventsList, event)
	}

	if err := rows.Err(); err != nil {
		return nil, -1, fmt.Errorf("error iterating over rows: %w", err)
	}

	return eventsList, maxId, nil
}
