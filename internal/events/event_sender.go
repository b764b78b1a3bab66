// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/edgeward/otaup/internal/device"
	"github.com/edgeward/otaup/pkg/engine"
)

type (
	// Sender queues attempt events and flushes them to the report endpoint.
	// It implements engine.Reporter. One Sender covers one invocation; its
	// attempt ID is a fresh ULID so events sort by time server-side.
	Sender struct {
		dbPath    string
		url       string
		attemptID string
		device    device.Info
		httpc     *http.Client
	}
)

func NewSender(dbPath, url string, dev device.Info) *Sender {
	return &Sender{
		dbPath:    dbPath,
		url:       url,
		attemptID: ulid.Make().String(),
		device:    dev,
		httpc:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Sender) AttemptID() string { return s.attemptID }

// Report queues one event. Failures are logged and swallowed; event loss
// must never fail the update attempt itself.
func (s *Sender) Report(ev engine.Event) {
	event := &UpdateEvent{
		Id:         uuid.New().String(),
		AttemptId:  s.attemptID,
		DeviceUUID: s.device.UUID,
		DeviceName: s.device.Name,
		DeviceTime: time.Now().Format(time.RFC3339),
		Type:       string(ev.Type),
		Remote:     ev.Remote,
		Outcome:    string(ev.Outcome),
		Bytes:      ev.Bytes,
		Error:      ev.Error,
	}
	if err := SaveEvent(s.dbPath, event); err != nil {
		log.Err(err).Str("type", event.Type).Msg("Unable to queue event")
	}
}

// Flush posts all queued events to the report endpoint and removes the ones
// the server accepted. A Sender with no endpoint configured queues only.
func (s *Sender) Flush() error {
	if s.url == "" {
		return nil
	}
	evts, maxId, err := GetEvents(s.dbPath)
	if err != nil {
		return fmt.Errorf("error getting events: %w", err)
	}

	if len(evts) == 0 {
		log.Debug().Msg("No events to send")
		return nil
	}

	log.Debug().Msgf("Flushing %d events", len(evts))
	body, err := json.Marshal(evts)
	if err != nil {
		return fmt.Errorf("error marshaling events: %w", err)
	}
	res, err := s.httpc.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error sending events: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 204 {
		return fmt.Errorf("server could not process events: HTTP_%d", res.StatusCode)
	}

	if err := DeleteEvents(s.dbPath, maxId); err != nil {
		return fmt.Errorf("error deleting events: %w", err)
	}
	return nil
}
