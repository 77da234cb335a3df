// Package coordinator implements the file-backed inter-liaison broker of
// §4.5: direct/broadcast messaging, task claiming, shared context, and
// heartbeat-based liveness, serialized by advisory exclusive file locks.
//
// Grounded on: original_source/src/takopi/runners/liaison_coordination.py
// Locking uses github.com/gofrs/flock instead of a hand-rolled flock(2)
// wrapper, matching the pack's goadesign-goa-ai lineage for this concern.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classicrob/takopi-go/internal/apperrors"
)

const activeThreshold = 60 * time.Second

// MessageType tags a CoordinationMessage's purpose.
type MessageType string

const (
	MessageInfoShare    MessageType = "info_share"
	MessageQuestion     MessageType = "question"
	MessageTaskClaim    MessageType = "task_claim"
	MessageTaskComplete MessageType = "task_complete"
)

// Message is the wire form of §3's CoordinationMessage. ToLiaison == ""
// means broadcast.
type Message struct {
	MessageID   string         `json:"message_id"`
	FromLiaison string         `json:"from_liaison"`
	ToLiaison   string         `json:"to_liaison,omitempty"`
	Timestamp   int64          `json:"timestamp"`
	Type        MessageType    `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	ExpiresAt   *int64         `json:"expires_at,omitempty"`
}

func (m Message) isBroadcast() bool { return m.ToLiaison == "" }

// LiaisonInfo is one entry of state/active_liaisons.json.
type LiaisonInfo struct {
	StartedAt     int64  `json:"started_at"`
	PID           int    `json:"pid"`
	Task          string `json:"task"`
	Status        string `json:"status"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

type liaisonsFile struct {
	Version   int                    `json:"version"`
	Liaisons  map[string]LiaisonInfo `json:"liaisons"`
}

// TaskInfo is one entry of state/task_registry.json.
type TaskInfo struct {
	ClaimedBy   string `json:"claimed_by"`
	ClaimedAt   int64  `json:"claimed_at"`
	Description string `json:"description"`
	Status      string `json:"status"` // "in_progress" | "completed"
	CompletedAt int64  `json:"completed_at,omitempty"`
	Result      any    `json:"result,omitempty"`
}

type tasksFile struct {
	Version int                 `json:"version"`
	Tasks   map[string]TaskInfo `json:"tasks"`
}

// ContextEntry is one entry of state/shared_context.json.
type ContextEntry struct {
	Value       any    `json:"value"`
	FromLiaison string `json:"from_liaison"`
	UpdatedAt   int64  `json:"updated_at"`
}

type contextFile struct {
	Version int                     `json:"version"`
	Context map[string]ContextEntry `json:"context"`
}

// Clock abstracts wall-clock time so tests can control timestamps.
type Clock func() time.Time

// Coordinator is one liaison's handle onto the shared coordination folder.
type Coordinator struct {
	Folder    string
	LiaisonID string
	Now       Clock
	Logger    *zap.Logger

	readBroadcastIDs map[string]bool
}

// New returns a Coordinator rooted at folder, identified as liaisonID.
// A nil logger is replaced with a no-op logger.
func New(folder, liaisonID string, logger *zap.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		Folder:           folder,
		LiaisonID:        liaisonID,
		Now:              time.Now,
		Logger:           logger,
		readBroadcastIDs: make(map[string]bool),
	}
	if err := c.ensureFolders(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) ensureFolders() error {
	dirs := []string{
		filepath.Join(c.Folder, "coordination", "inbox", c.LiaisonID),
		filepath.Join(c.Folder, "coordination", "broadcast"),
		filepath.Join(c.Folder, "state"),
		filepath.Join(c.Folder, "locks"),
		filepath.Join(c.Folder, "sessions"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("coordinator: create %s: %w", d, err)
		}
	}
	return nil
}

// withLock runs fn while holding an exclusive lock on
// locks/<name>.lock, blocking (bounded by a 10s timeout, per §7's
// LockContention rule) until it is acquired.
func (c *Coordinator) withLock(name string, fn func() error) error {
	path := filepath.Join(c.Folder, "locks", name+".lock")
	fl := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("coordinator: lock %s: %w", name, err)
	}
	if !locked {
		lockErr := apperrors.NewLockContention(fmt.Sprintf("coordinator: timed out acquiring lock %s", name))
		c.Logger.Warn("lock contention", zap.String("lock", name))
		return lockErr
	}
	defer fl.Unlock()
	return fn()
}

func loadJSON[T any](path string, out *T, zero T) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		*out = zero
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// SendMessage writes msg to the broadcast folder (ToLiaison == "") or the
// recipient's inbox. The filename sorts by millisecond timestamp so
// ReceiveMessages observes FIFO order.
func (c *Coordinator) SendMessage(msg Message) error {
	name := fmt.Sprintf("%d_%s.json", msg.Timestamp, msg.FromLiaison)
	var dir string
	if msg.isBroadcast() {
		dir = filepath.Join(c.Folder, "coordination", "broadcast")
	} else {
		dir = filepath.Join(c.Folder, "coordination", "inbox", msg.ToLiaison)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return saveJSON(filepath.Join(dir, name), msg)
}

// ReceiveMessages drains this liaison's direct inbox (delete-on-read) then
// scans the broadcast folder (dedup-by-id, never deleted, own messages and
// expired messages filtered out).
func (c *Coordinator) ReceiveMessages() ([]Message, error) {
	var out []Message

	inboxDir := filepath.Join(c.Folder, "coordination", "inbox", c.LiaisonID)
	entries, err := sortedJSONFiles(inboxDir)
	if err != nil {
		return nil, err
	}
	for _, path := range entries {
		var msg Message
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = os.Remove(path)
			continue
		}
		_ = os.Remove(path)
		out = append(out, msg)
	}

	broadcastDir := filepath.Join(c.Folder, "coordination", "broadcast")
	bEntries, err := sortedJSONFiles(broadcastDir)
	if err != nil {
		return nil, err
	}
	now := c.Now().Unix()
	for _, path := range bEntries {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ExpiresAt != nil && *msg.ExpiresAt < now {
			continue
		}
		if msg.FromLiaison == c.LiaisonID {
			continue
		}
		if c.readBroadcastIDs[msg.MessageID] {
			continue
		}
		c.readBroadcastIDs[msg.MessageID] = true
		out = append(out, msg)
	}

	return out, nil
}

func sortedJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

func newMessageID() string { return uuid.NewString() }

// RegisterLiaison atomically adds this liaison to active_liaisons.json.
func (c *Coordinator) RegisterLiaison(task string) error {
	path := filepath.Join(c.Folder, "state", "active_liaisons.json")
	now := c.Now().Unix()
	return c.withLock("active_liaisons", func() error {
		var f liaisonsFile
		if err := loadJSON(path, &f, liaisonsFile{Version: 1, Liaisons: map[string]LiaisonInfo{}}); err != nil {
			return err
		}
		if f.Liaisons == nil {
			f.Liaisons = map[string]LiaisonInfo{}
		}
		f.Liaisons[c.LiaisonID] = LiaisonInfo{
			StartedAt: now, PID: os.Getpid(), Task: task, Status: "running", LastHeartbeat: now,
		}
		return saveJSON(path, f)
	})
}

// Heartbeat refreshes this liaison's last_heartbeat and optional status.
func (c *Coordinator) Heartbeat(status string) error {
	if status == "" {
		status = "running"
	}
	path := filepath.Join(c.Folder, "state", "active_liaisons.json")
	now := c.Now().Unix()
	return c.withLock("active_liaisons", func() error {
		var f liaisonsFile
		if err := loadJSON(path, &f, liaisonsFile{Version: 1, Liaisons: map[string]LiaisonInfo{}}); err != nil {
			return err
		}
		info := f.Liaisons[c.LiaisonID]
		info.Status = status
		info.LastHeartbeat = now
		if f.Liaisons == nil {
			f.Liaisons = map[string]LiaisonInfo{}
		}
		f.Liaisons[c.LiaisonID] = info
		return saveJSON(path, f)
	})
}

// DeregisterLiaison removes this liaison from active_liaisons.json.
func (c *Coordinator) DeregisterLiaison() error {
	path := filepath.Join(c.Folder, "state", "active_liaisons.json")
	return c.withLock("active_liaisons", func() error {
		var f liaisonsFile
		if err := loadJSON(path, &f, liaisonsFile{Version: 1, Liaisons: map[string]LiaisonInfo{}}); err != nil {
			return err
		}
		delete(f.Liaisons, c.LiaisonID)
		return saveJSON(path, f)
	})
}

// GetActiveLiaisons returns liaisons whose heartbeat is within 60s of now.
func (c *Coordinator) GetActiveLiaisons() (map[string]LiaisonInfo, error) {
	path := filepath.Join(c.Folder, "state", "active_liaisons.json")
	var f liaisonsFile
	if err := loadJSON(path, &f, liaisonsFile{Version: 1, Liaisons: map[string]LiaisonInfo{}}); err != nil {
		return nil, err
	}
	now := c.Now()
	active := make(map[string]LiaisonInfo)
	for id, info := range f.Liaisons {
		if now.Sub(time.Unix(info.LastHeartbeat, 0)) < activeThreshold {
			active[id] = info
		}
	}
	return active, nil
}

// ClaimTask attempts to claim taskID; returns false if the task is
// already in_progress, whoever claimed it (this liaison included).
func (c *Coordinator) ClaimTask(taskID, description string) (bool, error) {
	path := filepath.Join(c.Folder, "state", "task_registry.json")
	now := c.Now().Unix()
	claimed := false
	err := c.withLock("task_registry", func() error {
		var f tasksFile
		if err := loadJSON(path, &f, tasksFile{Version: 1, Tasks: map[string]TaskInfo{}}); err != nil {
			return err
		}
		if f.Tasks == nil {
			f.Tasks = map[string]TaskInfo{}
		}
		if existing, ok := f.Tasks[taskID]; ok && existing.Status == "in_progress" {
			return nil
		}
		f.Tasks[taskID] = TaskInfo{ClaimedBy: c.LiaisonID, ClaimedAt: now, Description: description, Status: "in_progress"}
		claimed = true
		return saveJSON(path, f)
	})
	return claimed, err
}

// CompleteTask marks taskID completed with an optional result.
func (c *Coordinator) CompleteTask(taskID string, result any) error {
	path := filepath.Join(c.Folder, "state", "task_registry.json")
	now := c.Now().Unix()
	return c.withLock("task_registry", func() error {
		var f tasksFile
		if err := loadJSON(path, &f, tasksFile{Version: 1, Tasks: map[string]TaskInfo{}}); err != nil {
			return err
		}
		info := f.Tasks[taskID]
		info.Status = "completed"
		info.CompletedAt = now
		info.Result = result
		if f.Tasks == nil {
			f.Tasks = map[string]TaskInfo{}
		}
		f.Tasks[taskID] = info
		return saveJSON(path, f)
	})
}

// ShareContext sets context[key] under lock.
func (c *Coordinator) ShareContext(key string, value any) error {
	path := filepath.Join(c.Folder, "state", "shared_context.json")
	now := c.Now().Unix()
	return c.withLock("shared_context", func() error {
		var f contextFile
		if err := loadJSON(path, &f, contextFile{Version: 1, Context: map[string]ContextEntry{}}); err != nil {
			return err
		}
		if f.Context == nil {
			f.Context = map[string]ContextEntry{}
		}
		f.Context[key] = ContextEntry{Value: value, FromLiaison: c.LiaisonID, UpdatedAt: now}
		return saveJSON(path, f)
	})
}

// GetSharedContext returns the full shared-context map.
func (c *Coordinator) GetSharedContext() (map[string]ContextEntry, error) {
	path := filepath.Join(c.Folder, "state", "shared_context.json")
	var f contextFile
	if err := loadJSON(path, &f, contextFile{Version: 1, Context: map[string]ContextEntry{}}); err != nil {
		return nil, err
	}
	return f.Context, nil
}

// BroadcastDiscovery sends a 1h-expiry info_share broadcast.
func (c *Coordinator) BroadcastDiscovery(topic string, data any) (string, error) {
	id := newMessageID()
	now := c.Now()
	expires := now.Add(time.Hour).Unix()
	msg := Message{
		MessageID:   id,
		FromLiaison: c.LiaisonID,
		Timestamp:   now.UnixMilli(),
		Type:        MessageInfoShare,
		Payload:     map[string]any{"topic": topic, "data": data},
		ExpiresAt:   &expires,
	}
	return id, c.SendMessage(msg)
}

// AskLiaison sends a 5min-expiry question directly to toLiaison.
func (c *Coordinator) AskLiaison(toLiaison, question string, context any) (string, error) {
	id := newMessageID()
	now := c.Now()
	expires := now.Add(5 * time.Minute).Unix()
	msg := Message{
		MessageID:   id,
		FromLiaison: c.LiaisonID,
		ToLiaison:   toLiaison,
		Timestamp:   now.UnixMilli(),
		Type:        MessageQuestion,
		Payload:     map[string]any{"question": question, "context": context},
		ExpiresAt:   &expires,
	}
	return id, c.SendMessage(msg)
}
