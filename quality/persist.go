// ════════════════════════════════════════════════════════════════════════════════════════════════
// Quality Log Persistence
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: SQLite Dump / Reload of Operation Logs
//
// Description:
//   Persists a quiesced log set into a SQLite database so quality passes can be replayed and
//   compared offline. One table per stream; (thread, seq) preserves each thread's record order
//   on reload. Writes batch inside a single transaction with prepared statements.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package quality

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"kpq/types"
)

const persistSchema = `
CREATE TABLE IF NOT EXISTS insertions (
	thread INTEGER NOT NULL,
	seq    INTEGER NOT NULL,
	key    INTEGER NOT NULL,
	id     INTEGER NOT NULL,
	tick   INTEGER NOT NULL,
	PRIMARY KEY (thread, seq)
);
CREATE TABLE IF NOT EXISTS deletions (
	thread INTEGER NOT NULL,
	seq    INTEGER NOT NULL,
	id     INTEGER NOT NULL,
	tick   INTEGER NOT NULL,
	PRIMARY KEY (thread, seq)
);
DELETE FROM insertions;
DELETE FROM deletions;
`

// SaveLogs writes the log set to a SQLite database at path, replacing any
// previous dump.
func SaveLogs(path string, ls *LogSet) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(persistSchema); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insStmt, err := tx.Prepare("INSERT INTO insertions (thread, seq, key, id, tick) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer insStmt.Close()
	delStmt, err := tx.Prepare("INSERT INTO deletions (thread, seq, id, tick) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer delStmt.Close()

	for t, tl := range ls.Threads() {
		for seq, rec := range tl.Inserts {
			if _, err := insStmt.Exec(t, seq, int64(rec.Key), int64(rec.ID), int64(rec.Tick)); err != nil {
				return err
			}
		}
		for seq, rec := range tl.Deletes {
			if _, err := delStmt.Exec(t, seq, int64(rec.ID), int64(rec.Tick)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadLogs rebuilds a log set from a SQLite dump. The returned set is ready
// for Evaluate; its tick counter resumes past the largest persisted tick.
func LoadLogs(path string) (*LogSet, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ls := NewLogSet()
	byThread := map[int64]*ThreadLog{}
	threadLog := func(t int64) *ThreadLog {
		tl, ok := byThread[t]
		if !ok {
			tl = ls.NewThreadLog()
			byThread[t] = tl
		}
		return tl
	}
	var maxTick uint64

	rows, err := db.Query("SELECT thread, key, id, tick FROM insertions ORDER BY thread, seq")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var t, key, id, tick int64
		if err := rows.Scan(&t, &key, &id, &tick); err != nil {
			rows.Close()
			return nil, err
		}
		tl := threadLog(t)
		tl.Inserts = append(tl.Inserts, InsertRecord{
			Key:  uint32(key),
			ID:   types.PackedItemID(id),
			Tick: uint64(tick),
		})
		if uint64(tick) > maxTick {
			maxTick = uint64(tick)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = db.Query("SELECT thread, id, tick FROM deletions ORDER BY thread, seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t, id, tick int64
		if err := rows.Scan(&t, &id, &tick); err != nil {
			return nil, err
		}
		tl := threadLog(t)
		tl.Deletes = append(tl.Deletes, DeleteRecord{
			ID:   types.PackedItemID(id),
			Tick: uint64(tick),
		})
		if uint64(tick) > maxTick {
			maxTick = uint64(tick)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ls.tick.Store(maxTick)
	return ls, nil
}
