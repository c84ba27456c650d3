package stackforge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLDialect string

const (
	SQLDialectPostgres SQLDialect = "postgres"
	SQLDialectSQLite   SQLDialect = "sqlite"
)

// SQLInventoryGateway keeps stacks in a relational table. Use adjustments run as a single guarded
// UPDATE, so the store itself serialises deltas per instance.
type SQLInventoryGateway struct {
	db      *sql.DB
	dialect SQLDialect
	table   string
	owned   bool
}

// NewSQLInventoryGateway uses an existing connection pool and creates the stacks table if needed.
func NewSQLInventoryGateway(ctx context.Context, db *sql.DB, dialect SQLDialect, table string) (*SQLInventoryGateway, error) {
	if db == nil {
		return nil, fmt.Errorf("sql gateway requires a database connection")
	}
	if table == "" {
		table = defaultStacksTable
	}
	if !sqlIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	g := &SQLInventoryGateway{
		db:      db,
		dialect: dialect,
		table:   table,
	}
	if err := g.initSchema(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// OpenSQLiteGateway opens a dedicated SQLite database for the stacks table.
func OpenSQLiteGateway(ctx context.Context, dsn, table string) (*SQLInventoryGateway, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty sqlite dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and writes serialised.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	g, err := NewSQLInventoryGateway(ctx, db, SQLDialectSQLite, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	g.owned = true
	return g, nil
}

// Close releases the database if the gateway opened it.
func (g *SQLInventoryGateway) Close() error {
	if !g.owned {
		return nil
	}
	return g.db.Close()
}

func (g *SQLInventoryGateway) initSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	player_id      TEXT   NOT NULL,
	instance_id    TEXT   NOT NULL,
	item_type      TEXT   NOT NULL,
	remaining_uses BIGINT NOT NULL,
	custom_data    TEXT   NOT NULL,
	update_time    BIGINT NOT NULL,
	PRIMARY KEY (player_id, instance_id)
)`, g.table)
	if _, err := g.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", g.table, err)
	}
	return nil
}

func (g *SQLInventoryGateway) FetchInventory(ctx context.Context, playerID string) ([]*Stack, error) {
	rows, err := g.db.QueryContext(ctx, g.query(
		`SELECT instance_id, item_type, remaining_uses, custom_data, update_time FROM %s WHERE player_id = ? ORDER BY instance_id`),
		playerID)
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	defer rows.Close()

	stacks := make([]*Stack, 0)
	for rows.Next() {
		var (
			record     storedStack
			uses       int64
			customData string
			updateTime int64
		)
		if err := rows.Scan(&record.InstanceId, &record.ItemId, &uses, &customData, &updateTime); err != nil {
			return nil, fmt.Errorf("scanning inventory row: %w", err)
		}
		record.setUses(uses)
		if err := json.Unmarshal([]byte(customData), &record.CustomData); err != nil {
			return nil, fmt.Errorf("decoding custom data of %s: %w", record.InstanceId, err)
		}
		stack := record.toStack()
		stack.UpdateTimeSec = updateTime
		stacks = append(stacks, stack)
	}
	return stacks, rows.Err()
}

func (g *SQLInventoryGateway) AdjustUses(ctx context.Context, playerID, instanceID string, delta int64) error {
	return g.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, g.query(
			`UPDATE %s SET remaining_uses = remaining_uses + ?, update_time = ? WHERE player_id = ? AND instance_id = ? AND remaining_uses + ? >= 0`),
			delta, time.Now().Unix(), playerID, instanceID, delta)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			if _, err := g.currentUses(ctx, tx, playerID, instanceID); err != nil {
				return err
			}
			return fmt.Errorf("%w: delta %d on %s", errUsesBelowZero, delta, instanceID)
		}

		_, err = tx.ExecContext(ctx, g.query(
			`DELETE FROM %s WHERE player_id = ? AND instance_id = ? AND remaining_uses <= 0`),
			playerID, instanceID)
		return err
	})
}

func (g *SQLInventoryGateway) GrantInstance(ctx context.Context, playerID, itemType string) (string, error) {
	instanceID := uuid.New().String()
	_, err := g.db.ExecContext(ctx, g.query(
		`INSERT INTO %s (player_id, instance_id, item_type, remaining_uses, custom_data, update_time) VALUES (?, ?, ?, ?, ?, ?)`),
		playerID, instanceID, itemType, 1, "{}", time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("granting %s: %w", itemType, err)
	}
	return instanceID, nil
}

func (g *SQLInventoryGateway) RevokeInstance(ctx context.Context, playerID, instanceID string) error {
	res, err := g.db.ExecContext(ctx, g.query(`DELETE FROM %s WHERE player_id = ? AND instance_id = ?`), playerID, instanceID)
	if err != nil {
		return fmt.Errorf("revoking %s: %w", instanceID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", errInstanceNotFound, instanceID)
	}
	return nil
}

func (g *SQLInventoryGateway) SetCustomData(ctx context.Context, playerID, instanceID string, data map[string]string) error {
	return g.inTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, g.query(`SELECT custom_data FROM %s WHERE player_id = ? AND instance_id = ?`+g.lockClause()),
			playerID, instanceID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", errInstanceNotFound, instanceID)
		}
		if err != nil {
			return err
		}

		var customData map[string]string
		if err := json.Unmarshal([]byte(raw), &customData); err != nil {
			return fmt.Errorf("decoding custom data of %s: %w", instanceID, err)
		}
		encoded, err := json.Marshal(mergeCustomData(customData, data))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, g.query(`UPDATE %s SET custom_data = ?, update_time = ? WHERE player_id = ? AND instance_id = ?`),
			string(encoded), time.Now().Unix(), playerID, instanceID)
		return err
	})
}

func (g *SQLInventoryGateway) currentUses(ctx context.Context, tx *sql.Tx, playerID, instanceID string) (int64, error) {
	var uses int64
	err := tx.QueryRowContext(ctx, g.query(`SELECT remaining_uses FROM %s WHERE player_id = ? AND instance_id = ?`),
		playerID, instanceID).Scan(&uses)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", errInstanceNotFound, instanceID)
	}
	return uses, err
}

func (g *SQLInventoryGateway) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// query fills in the table name and rewrites placeholders for the dialect.
func (g *SQLInventoryGateway) query(format string) string {
	query := fmt.Sprintf(format, g.table)
	if g.dialect != SQLDialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (g *SQLInventoryGateway) lockClause() string {
	if g.dialect == SQLDialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}
