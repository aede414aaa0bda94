package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"famlocator.app/internal/stream"
)

// DefaultPollInterval is how often the directory is refreshed.
const DefaultPollInterval = 15 * time.Second

// ErrFeedClosed means the server ended a live feed without the chat being
// deleted, typically because the subscriber lagged. Callers re-follow.
var ErrFeedClosed = errors.New("client: chat feed closed")

// MemberLister is the part of Client the poller needs.
type MemberLister interface {
	Members(ctx context.Context) ([]Member, error)
}

// MemberPoller refreshes the member directory on a fixed interval.
type MemberPoller struct {
	Lister   MemberLister
	Interval time.Duration
	// OnMembers receives every successful fetch.
	OnMembers func([]Member)
	// OnError receives failed fetches; polling continues.
	OnError func(error)
}

// Run fetches immediately, then on every tick until ctx ends.
func (p *MemberPoller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p.poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *MemberPoller) poll(ctx context.Context) {
	list, err := p.Lister.Members(ctx)
	if err != nil {
		if ctx.Err() == nil && p.OnError != nil {
			p.OnError(err)
		}
		return
	}
	if p.OnMembers != nil {
		p.OnMembers(list)
	}
}

// UpdateKind classifies what FollowChat delivers.
type UpdateKind int

const (
	UpdateSnapshot UpdateKind = iota
	UpdateMessage
	UpdateCleared
	UpdateDeleted
)

// Update is one change to a followed chat. Snapshot updates carry the full
// history; message updates carry exactly one new message with IsNew set.
type Update struct {
	Kind     UpdateKind
	ChatID   string
	Messages []*stream.Message
	IsNew    bool
}

type frame struct {
	Type     string            `json:"type"`
	ChatID   string            `json:"chatId"`
	Message  *stream.Message   `json:"message"`
	Messages []*stream.Message `json:"messages"`
}

// FollowChat streams chatID over Server-Sent Events and calls fn for each
// update. It returns nil when ctx ends or the chat is deleted.
func (c *Client) FollowChat(ctx context.Context, chatID string, fn func(Update)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/chats/"+chatID+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeEnvelope(resp, nil)
	}

	err = readEvents(resp.Body, func(event, data string) (bool, error) {
		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return false, fmt.Errorf("decode %s frame: %w", event, err)
		}
		switch event {
		case "snapshot":
			fn(Update{Kind: UpdateSnapshot, ChatID: chatID, Messages: f.Messages})
		case string(stream.MessageCreated):
			if f.Message != nil {
				fn(Update{Kind: UpdateMessage, ChatID: chatID, Messages: []*stream.Message{f.Message}, IsNew: true})
			}
		case string(stream.ChatCleared):
			fn(Update{Kind: UpdateCleared, ChatID: chatID})
		case string(stream.ChatDeleted):
			fn(Update{Kind: UpdateDeleted, ChatID: chatID})
			return true, nil
		}
		return false, nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses an event stream, calling fn per dispatched event until fn
// asks to stop or the stream ends.
func readEvents(r io.Reader, fn func(event, data string) (stop bool, err error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)

	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if event == "" {
					event = "message"
				}
				stop, err := fn(event, strings.Join(data, "\n"))
				if err != nil || stop {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return ErrFeedClosed
}
