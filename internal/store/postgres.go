package store

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"poscheck/internal/schema"
	"poscheck/pkg/conn"
)

const ledgerMetaID = 1

type inventoryRow struct {
	Key       string `gorm:"column:inventory_key;primaryKey"`
	Quantity  int64  `gorm:"column:quantity;not null"`
	Version   int64  `gorm:"column:version;not null"`
	ChangedAt int64  `gorm:"column:changed_at;not null"`
}

func (inventoryRow) TableName() string { return "inventory" }

type ledgerMetaRow struct {
	ID      int   `gorm:"column:id;primaryKey"`
	LastSeq int64 `gorm:"column:last_seq;not null"`
}

func (ledgerMetaRow) TableName() string { return "ledger_meta" }

func toRow(r schema.InventoryRecord) inventoryRow {
	return inventoryRow{
		Key:       r.Key,
		Quantity:  int64(r.Quantity),
		Version:   int64(r.Version),
		ChangedAt: r.UpdatedAt,
	}
}

func fromRow(r inventoryRow) schema.InventoryRecord {
	return schema.InventoryRecord{
		Key:       r.Key,
		Quantity:  schema.Quantity(r.Quantity),
		Version:   uint64(r.Version),
		UpdatedAt: r.ChangedAt,
	}
}

// Postgres mirrors the ledger into the inventory and ledger_meta tables.
type Postgres struct {
	client *conn.Client
}

// OpenPostgres connects and migrates the ledger tables.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	client, err := conn.NewPostgres(ctx, conn.Option{ConnString: dsn})
	if err != nil {
		return nil, err
	}
	if err := client.DB().WithContext(ctx).AutoMigrate(&inventoryRow{}, &ledgerMetaRow{}); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "migrate ledger tables")
	}
	logs.Info("ledger store postgres opened")
	return &Postgres{client: client}, nil
}

func (p *Postgres) Load(ctx context.Context) (map[string]schema.InventoryRecord, uint64, error) {
	db := p.client.DB().WithContext(ctx)

	var rows []inventoryRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, 0, errors.Wrap(err, "load inventory rows")
	}
	records := make(map[string]schema.InventoryRecord, len(rows))
	for _, r := range rows {
		records[r.Key] = fromRow(r)
	}

	var meta ledgerMetaRow
	if err := db.Where("id = ?", ledgerMetaID).Limit(1).Find(&meta).Error; err != nil {
		return nil, 0, errors.Wrap(err, "load ledger meta")
	}
	return records, uint64(meta.LastSeq), nil
}

func (p *Postgres) Save(ctx context.Context, records []schema.InventoryRecord, lastSeq uint64) error {
	return p.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertRows(tx, records); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_seq": gorm.Expr("GREATEST(ledger_meta.last_seq, EXCLUDED.last_seq)"),
			}),
		}).Create(&ledgerMetaRow{ID: ledgerMetaID, LastSeq: int64(lastSeq)}).Error
	})
}

func (p *Postgres) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return p.client.DB().WithContext(ctx).Where("inventory_key IN ?", keys).Delete(&inventoryRow{}).Error
}

func (p *Postgres) Replace(ctx context.Context, records []schema.InventoryRecord, lastSeq uint64) error {
	return p.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&inventoryRow{}).Error; err != nil {
			return err
		}
		if err := upsertRows(tx, records); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&ledgerMetaRow{ID: ledgerMetaID, LastSeq: int64(lastSeq)}).Error
	})
}

func (p *Postgres) Close() error {
	return p.client.Close()
}

func upsertRows(tx *gorm.DB, records []schema.InventoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]inventoryRow, len(records))
	for i, r := range records {
		rows[i] = toRow(r)
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, 500).Error
}
