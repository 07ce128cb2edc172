package attendance

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Contact is what the user directory knows about a student.
type Contact struct {
	Name  string
	Email string
}

// Directory resolves user ids to names and emails for exports.
type Directory interface {
	Contact(ctx context.Context, userID string) (Contact, error)
}

var exportHeader = []string{"Student ID", "Name", "Email", "Status", "Joined At", "Left At", "Duration"}

// Export writes the session's attendance as RFC 4180 CSV, one row per
// student.
func (d *Deriver) Export(ctx context.Context, sessionID string, w io.Writer) error {
	recs, err := d.List(ctx, sessionID)
	if err != nil {
		return err
	}

	now := d.now()
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	for _, rec := range recs {
		contact := d.contact(ctx, rec)
		status := "absent"
		if rec.IsPresent {
			status = "present"
		}
		row := []string{
			rec.StudentID,
			contact.Name,
			contact.Email,
			status,
			formatTime(rec.JoinedAt),
			formatTime(rec.LeftAt),
			Duration(rec, now).Round(time.Second).String(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

func (d *Deriver) contact(ctx context.Context, rec Record) Contact {
	c := Contact{Name: rec.StudentName}
	if d.dir != nil {
		found, err := d.dir.Contact(ctx, rec.StudentID)
		if err != nil {
			d.logger.Debug("directory lookup failed", zap.String("user", rec.StudentID), zap.Error(err))
		} else {
			if found.Name != "" {
				c.Name = found.Name
			}
			c.Email = found.Email
		}
	}
	if c.Name == "" {
		c.Name = rec.StudentID
	}
	return c
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// MemoryDirectory remembers contacts seen in authenticated requests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{contacts: make(map[string]Contact)}
}

// Remember stores c for userID. Empty fields keep what was known before.
func (m *MemoryDirectory) Remember(userID string, c Contact) {
	if userID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.contacts[userID]
	if c.Name == "" {
		c.Name = old.Name
	}
	if c.Email == "" {
		c.Email = old.Email
	}
	m.contacts[userID] = c
}

func (m *MemoryDirectory) Contact(_ context.Context, userID string) (Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[userID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}
