package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrOrderNotFound = errors.New("order not found")

type Store interface {
	Create(ctx context.Context, ord *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByCheckoutReference(ctx context.Context, ref string) (*Order, error)
	// UpdateAtomic applies mutate to the current order under per-order
	// serialization. If mutate returns an error nothing is written and the
	// error is returned unchanged.
	UpdateAtomic(ctx context.Context, id uuid.UUID, mutate func(*Order) error) (*Order, error)
	ListStaleAwaitingPayment(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error)
}

type postgresStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (r *postgresStore) Create(ctx context.Context, ord *Order) (err error) {
	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id", ord.ID).Msg("Panic recovered during Create, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", ord.ID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", ord.ID).Msg("Failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	now := time.Now().UTC()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (id, customer_name, customer_email, status, unit_price, total_amount, checkout_reference, checkout_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(ctx, queryOrder,
		ord.ID,
		ord.CustomerName,
		ord.CustomerEmail,
		string(ord.Status),
		ord.UnitPrice,
		ord.TotalAmount,
		ord.CheckoutReference,
		ord.CheckoutURL,
		ord.CreatedAt,
		ord.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryPhoto := `
		INSERT INTO order_photos (id, order_id, position, filename, content_type, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range ord.Photos {
		photoID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate photo ID: %w", genErr)
		}
		p := &ord.Photos[i]
		_, err = tx.Exec(ctx, queryPhoto, photoID, ord.ID, i, p.Filename, p.ContentType, p.Data)
		if err != nil {
			return fmt.Errorf("repository: failed to insert photo %d for order %s: %w", i, ord.ID, err)
		}
	}
	return nil
}

const orderColumns = `id, customer_name, customer_email, status, unit_price, total_amount, checkout_reference, checkout_url, created_at, updated_at, finalized_at, notified_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var ord Order
	err := row.Scan(
		&ord.ID,
		&ord.CustomerName,
		&ord.CustomerEmail,
		&ord.Status,
		&ord.UnitPrice,
		&ord.TotalAmount,
		&ord.CheckoutReference,
		&ord.CheckoutURL,
		&ord.CreatedAt,
		&ord.UpdatedAt,
		&ord.FinalizedAt,
		&ord.NotifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ord, nil
}

func (r *postgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	ord, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	photos, err := r.photosFor(ctx, id)
	if err != nil {
		return nil, err
	}
	ord.Photos = photos

	return ord, nil
}

func (r *postgresStore) GetByCheckoutReference(ctx context.Context, ref string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE checkout_reference = $1 AND checkout_reference <> ''`

	ord, err := scanOrder(r.db.QueryRow(ctx, query, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by checkout reference %s: %w", ref, err)
	}
	return ord, nil
}

func (r *postgresStore) photosFor(ctx context.Context, orderID uuid.UUID) ([]Photo, error) {
	query := `
		SELECT filename, content_type, data
		FROM order_photos
		WHERE order_id = $1
		ORDER BY position
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query photos for order %s: %w", orderID, err)
	}
	defer rows.Close()

	photos := make([]Photo, 0)
	for rows.Next() {
		var p Photo
		if err := rows.Scan(&p.Filename, &p.ContentType, &p.Data); err != nil {
			return nil, fmt.Errorf("repository: failed to scan photo for order %s: %w", orderID, err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating photos for order %s: %w", orderID, err)
	}
	return photos, nil
}

// UpdateAtomic locks the order row for the duration of the mutation, so
// concurrent webhook deliveries for the same order serialize here. Photos
// are immutable after Create and are not loaded or rewritten.
func (r *postgresStore) UpdateAtomic(ctx context.Context, id uuid.UUID, mutate func(*Order) error) (*Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error().Err(rbErr).Stringer("order_id", id).Msg("Failed to rollback transaction")
		}
	}()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	ord, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", id, err)
	}

	if err := mutate(ord); err != nil {
		return nil, err
	}
	ord.UpdatedAt = time.Now().UTC()

	update := `
		UPDATE orders
		SET status = $1, checkout_reference = $2, checkout_url = $3, updated_at = $4, finalized_at = $5, notified_at = $6
		WHERE id = $7
	`
	cmdTag, err := tx.Exec(ctx, update,
		string(ord.Status),
		ord.CheckoutReference,
		ord.CheckoutURL,
		ord.UpdatedAt,
		ord.FinalizedAt,
		ord.NotifiedAt,
		ord.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to update order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, ErrOrderNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return ord, nil
}

func (r *postgresStore) ListStaleAwaitingPayment(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	query := `SELECT id FROM orders WHERE status = $1 AND created_at < $2`

	rows, err := r.db.Query(ctx, query, string(StatusAwaitingPayment), olderThan)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query stale orders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository: failed to scan stale order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating stale orders: %w", err)
	}
	return ids, nil
}
