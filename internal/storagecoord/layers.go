package storagecoord

import (
	"context"

	"github.com/ubix08/orix/internal/archive"
	"github.com/ubix08/orix/internal/durablelog"
	"github.com/ubix08/orix/internal/memory"
)

// DurableLogLayer adapts internal/durablelog.Log to the priority-1 Layer
// contract.
type DurableLogLayer struct {
	Log durablelog.Log
}

func (l DurableLogLayer) Write(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		entry := durablelog.Entry{SessionID: m.SessionID, Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
		if err := l.Log.Append(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// ArchiveLayer adapts internal/archive.Archive to the priority-2 Layer
// contract.
type ArchiveLayer struct {
	Archive *archive.Archive
}

func (l ArchiveLayer) Write(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	bySession := make(map[string][]archive.Message)
	order := make([]string, 0, 1)
	for _, m := range msgs {
		if _, ok := bySession[m.SessionID]; !ok {
			order = append(order, m.SessionID)
		}
		bySession[m.SessionID] = append(bySession[m.SessionID], archive.Message{
			SessionID: m.SessionID, Role: m.Role, Content: m.Content, Timestamp: m.Timestamp, Tokens: m.Tokens,
		})
	}
	for _, sid := range order {
		if err := l.Archive.AppendMessages(ctx, sid, bySession[sid]); err != nil {
			return err
		}
	}
	return nil
}

// MemoryLayer adapts internal/memory.Manager's STM save to the priority-3
// Layer contract.
type MemoryLayer struct {
	Manager *memory.Manager
}

func (l MemoryLayer) Write(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		record := memory.STMRecord{
			SessionID:  m.SessionID,
			Timestamp:  m.Timestamp,
			Role:       m.Role,
			Content:    m.Content,
			Importance: 0.5,
		}
		if err := l.Manager.Save(ctx, record); err != nil {
			return err
		}
	}
	return nil
}
