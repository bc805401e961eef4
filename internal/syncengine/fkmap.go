package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spacedriveapp/sdcore/internal/storage"
)

// FKField describes one foreign-key column a model declares, naming both
// its wire form and the table the referenced uuid must resolve against
// (§4.6.4 "Every model declares its FK fields and their target tables").
type FKField struct {
	// IDField is the local-id column name, e.g. "parent_id". UUIDField is
	// the renamed wire form, e.g.
	// "parent_uuid" (§4.6.4 "the id field is renamed... to make wire
	// payloads schema-stable").
	IDField   string
	UUIDField string
	Table     string
}

// Entry's declared FK fields (§4.6.4's own example).
var entryFKs = []FKField{
	{IDField: "parent_id", UUIDField: "parent_uuid", Table: "entries"},
	{IDField: "metadata_id", UUIDField: "metadata_uuid", Table: "user_metadata"},
	{IDField: "content_id", UUIDField: "content_uuid", Table: "content_identities"},
}

var locationFKs = []FKField{
	{IDField: "device_id", UUIDField: "device_uuid", Table: "devices"},
	{IDField: "entry_id", UUIDField: "entry_uuid", Table: "entries"},
}

var volumeFKs = []FKField{
	{IDField: "device_id", UUIDField: "device_uuid", Table: "devices"},
}

// FKMapper resolves between a table's local integer ids and its global
// uuids in batch, one `WHERE ... IN (...)` round trip per table per call
// regardless of how many records need mapping (§4.6.4 "Batched variants
// perform one WHERE id IN (…) lookup per FK type per batch ... to avoid
// N×M queries").
type FKMapper struct {
	db *sql.DB
}

// NewFKMapper builds a mapper backed by store's underlying connection.
func NewFKMapper(store *storage.Store) *FKMapper {
	return &FKMapper{db: store.DB()}
}

// ErrMissingDependency is returned (wrapped with the missing uuid) when
// an inbound record's FK cannot yet be resolved locally — the caller
// defers the record to the next sync cycle rather than failing the batch
// (§4.6.3.c "If any dependency is missing, defer... the record is
// filtered out of the current apply batch and retried next cycle").
type ErrMissingDependency struct {
	Table string
	UUID  string
}

func (e *ErrMissingDependency) Error() string {
	return fmt.Sprintf("syncengine: dependency %s/%s not yet replicated", e.Table, e.UUID)
}

// IDsForUUIDs resolves every uuid in uuids against table in one query,
// returning a uuid->id map. Callers detect missing dependencies by
// checking which requested uuids are absent from the result.
func (m *FKMapper) IDsForUUIDs(ctx context.Context, table string, uuids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(uuids))

	uuids = dedupNonEmpty(uuids)
	if len(uuids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`SELECT id, uuid FROM %s WHERE uuid IN (%s)`, table, placeholders(len(uuids)))

	rows, err := m.db.QueryContext(ctx, query, toArgs(uuids)...)
	if err != nil {
		return nil, fmt.Errorf("syncengine: resolve %s uuids to ids: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			uuid string
		)

		if err := rows.Scan(&id, &uuid); err != nil {
			return nil, fmt.Errorf("syncengine: scan %s id/uuid: %w", table, err)
		}

		out[uuid] = id
	}

	return out, rows.Err()
}

// UUIDsForIDs resolves every id in ids against table in one query,
// returning an id->uuid map, used for outbound serialization (§4.6.4 "On
// outbound serialization, each local integer id is replaced with the
// target row's uuid").
func (m *FKMapper) UUIDsForIDs(ctx context.Context, table string, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))

	ids = dedupNonZero(ids)
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT id, uuid FROM %s WHERE id IN (%s)`, table, placeholders(len(ids)))

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("syncengine: resolve %s ids to uuids: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			uuid string
		)

		if err := rows.Scan(&id, &uuid); err != nil {
			return nil, fmt.Errorf("syncengine: scan %s id/uuid: %w", table, err)
		}

		out[id] = uuid
	}

	return out, rows.Err()
}

// RequireResolved checks that every uuid in uuids is present in
// resolved, returning *ErrMissingDependency for the first one that is
// not (§4.6.3.c).
func RequireResolved(table string, uuids []string, resolved map[string]int64) error {
	for _, u := range uuids {
		if u == "" {
			continue
		}

		if _, ok := resolved[u]; !ok {
			return &ErrMissingDependency{Table: table, UUID: u}
		}
	}

	return nil
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}

	return strings.Join(ph, ",")
}

func toArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}

	return args
}

func dedupNonEmpty(ss []string) []string {
	seen := make(map[string]bool, len(ss))

	out := make([]string, 0, len(ss))

	for _, s := range ss {
		if s == "" || seen[s] {
			continue
		}

		seen[s] = true

		out = append(out, s)
	}

	return out
}

func dedupNonZero(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))

	out := make([]int64, 0, len(ids))

	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}

		seen[id] = true

		out = append(out, id)
	}

	return out
}
