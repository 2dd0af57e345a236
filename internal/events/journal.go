package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Record is a persisted event
type Record struct {
	EventID   string    `gorm:"primaryKey" json:"event_id"`
	Vault     string    `gorm:"index;not null" json:"vault"`
	Kind      string    `gorm:"index;not null" json:"kind"`
	Payload   string    `json:"payload"` // JSON encoded event
	Sequence  int64     `gorm:"index" json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

func (Record) TableName() string {
	return "vault_events"
}

// Journal persists events inside the caller's transaction and fans them out
// to subscribers once the transaction has committed.
type Journal struct {
	db     *gorm.DB
	shared *subscribers
}

type subscribers struct {
	mu  sync.RWMutex
	fns []func(Event)
	seq int64
}

func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db, shared: &subscribers{}}
}

// WithTx returns a journal that writes through tx
func (j *Journal) WithTx(tx *gorm.DB) *Journal {
	return &Journal{db: tx, shared: j.shared}
}

// Subscribe registers fn to be called for every published event
func (j *Journal) Subscribe(fn func(Event)) {
	j.shared.mu.Lock()
	defer j.shared.mu.Unlock()
	j.shared.fns = append(j.shared.fns, fn)
}

// Append stores evts in emission order
func (j *Journal) Append(evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}

	records := make([]Record, 0, len(evts))
	for _, evt := range evts {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", evt.Kind(), err)
		}
		records = append(records, Record{
			EventID:   "EVT_" + uuid.New().String(),
			Vault:     evt.VaultAddress(),
			Kind:      evt.Kind(),
			Payload:   string(payload),
			Sequence:  j.nextSequence(),
			CreatedAt: time.Now(),
		})
	}

	if err := j.db.Create(&records).Error; err != nil {
		return fmt.Errorf("failed to store events: %w", err)
	}
	return nil
}

// Publish logs evts and hands them to subscribers. Call only after commit.
func (j *Journal) Publish(evts ...Event) {
	j.shared.mu.RLock()
	fns := j.shared.fns
	j.shared.mu.RUnlock()

	for _, evt := range evts {
		log.Info().
			Str("event", evt.Kind()).
			Str("vault", evt.VaultAddress()).
			Interface("payload", evt).
			Msg("vault event")
		for _, fn := range fns {
			fn(evt)
		}
	}
}

// ListByVault returns the events of a vault, oldest first
func (j *Journal) ListByVault(vault string) ([]Record, error) {
	var records []Record
	if err := j.db.Where("vault = ?", vault).Order("sequence ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return records, nil
}

func (j *Journal) nextSequence() int64 {
	j.shared.mu.Lock()
	defer j.shared.mu.Unlock()
	if j.shared.seq == 0 {
		var max int64
		j.db.Model(&Record{}).Select("COALESCE(MAX(sequence), 0)").Scan(&max)
		j.shared.seq = max
	}
	j.shared.seq++
	return j.shared.seq
}
