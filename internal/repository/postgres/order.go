package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

var txOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

const (
	orderColumns = `id, buyer_id, cart_id, shipping_address, grand_total, currency,
			payment_status, payment_reference, created_at`

	groupColumns = `id, order_id, seller_id, sub_total, shipping_fees_total, coupon_id, coupon_code,
			discount_amount, total, status, tracking_number, updated_at`

	lineColumns = `id, group_id, product_id, variant_id, size_id, quantity, unit_price, weight,
			shipping_method, shipping_fee, is_free_shipping, delivery_min_days, delivery_max_days,
			shipping_service_name, return_policy`

	lockStockSQL = `
		SELECT stock
		FROM variant_sizes
		WHERE product_id = $1 AND variant_id = $2 AND size_id = $3
		FOR UPDATE`

	decrementStockSQL = `
		UPDATE variant_sizes
		SET stock = stock - $4, updated_at = NOW()
		WHERE product_id = $1 AND variant_id = $2 AND size_id = $3`

	restockSQL = `
		UPDATE variant_sizes v
		SET stock = v.stock + l.quantity, updated_at = NOW()
		FROM order_lines l
		WHERE l.group_id = ANY($1)
			AND v.product_id = l.product_id
			AND v.variant_id = l.variant_id
			AND v.size_id = l.size_id`
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
// It is the only writer of variant_sizes.stock at runtime.
type OrderRepository struct {
	pool database.DBTX
}

var _ repository.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Commit locks the stock row of every ordered variant size in key order,
// fails with STOCK_CONFLICT listing every short line, and otherwise
// decrements stock and inserts the order, its groups and lines. Everything
// happens in one transaction.
func (r *OrderRepository) Commit(ctx context.Context, o *domain.Order) (err error) {
	ctx, end := database.TraceQuery(ctx, "CommitOrder", lockStockSQL)
	defer func() { end(err) }()

	return database.InTx(ctx, r.pool, txOptions, func(tx pgx.Tx) error {
		demand := o.Demand()

		var conflicts []domain.StockConflict
		for _, d := range demand {
			var stock int
			err := tx.QueryRow(ctx, lockStockSQL, d.Key.ProductID, d.Key.VariantID, d.Key.SizeID).Scan(&stock)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("lock stock %s: %w", d.Key, err)
			}
			if stock < d.Quantity {
				conflicts = append(conflicts, domain.StockConflict{
					ProductID: d.Key.ProductID,
					VariantID: d.Key.VariantID,
					SizeID:    d.Key.SizeID,
					Requested: d.Quantity,
					Available: stock,
				})
			}
		}
		if len(conflicts) > 0 {
			return domain.StockConflictError(conflicts)
		}

		for _, d := range demand {
			if _, err := tx.Exec(ctx, decrementStockSQL, d.Key.ProductID, d.Key.VariantID, d.Key.SizeID, d.Quantity); err != nil {
				return fmt.Errorf("decrement stock %s: %w", d.Key, err)
			}
		}

		return insertOrder(ctx, tx, o)
	})
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	orderQuery := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = tx.Exec(ctx, orderQuery,
		o.ID,
		o.BuyerID,
		o.CartID,
		address,
		o.GrandTotal,
		o.Currency,
		o.PaymentStatus,
		o.PaymentReference,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	groupQuery := `
		INSERT INTO order_groups (` + groupColumns + `, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	lineQuery := `
		INSERT INTO order_lines (` + lineColumns + `, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	for i, g := range o.Groups {
		_, err := tx.Exec(ctx, groupQuery,
			g.ID,
			g.OrderID,
			g.SellerID,
			g.SubTotal,
			g.ShippingFeesTotal,
			g.CouponID,
			g.CouponCode,
			g.DiscountAmount,
			g.Total,
			g.Status,
			g.TrackingNumber,
			g.UpdatedAt,
			i,
			o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order group: %w", err)
		}

		for j, l := range g.Lines {
			_, err := tx.Exec(ctx, lineQuery,
				l.ID,
				l.GroupID,
				l.ProductID,
				l.VariantID,
				l.SizeID,
				l.Quantity,
				l.UnitPrice,
				l.Weight,
				string(l.ShippingMethod),
				l.ShippingFee,
				l.IsFreeShipping,
				l.DeliveryTimeMinDays,
				l.DeliveryTimeMaxDays,
				l.ShippingServiceName,
				l.ReturnPolicy,
				j,
			)
			if err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
	}

	return nil
}

// GetByID retrieves an order with its groups and lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	groups, err := r.loadGroups(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Groups = groups[o.ID]

	return o, nil
}

// ListByBuyer returns a page of the buyer's orders, newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Order, int, error) {
	query := `
		SELECT ` + orderColumns + `, count(*) OVER() AS total_count
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, buyerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders by buyer: %w", err)
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []string
		total  int
	)
	for rows.Next() {
		o, err := scanOrder(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	if len(ids) == 0 {
		return []domain.Order{}, total, nil
	}

	groups, err := r.loadGroups(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Groups = groups[orders[i].ID]
	}

	return orders, total, nil
}

// GetGroup retrieves one order group with its lines.
func (r *OrderRepository) GetGroup(ctx context.Context, groupID string) (*domain.OrderGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM order_groups WHERE id = $1`

	g, err := scanGroup(r.pool.QueryRow(ctx, query, groupID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order group", groupID)
		}
		return nil, fmt.Errorf("get order group: %w", err)
	}

	lines, err := r.loadLines(ctx, []string{g.ID})
	if err != nil {
		return nil, err
	}
	g.Lines = lines[g.ID]

	return g, nil
}

// ListGroupsBySeller returns a page of the seller's groups, newest first.
func (r *OrderRepository) ListGroupsBySeller(ctx context.Context, sellerID string, offset, limit int) ([]domain.OrderGroup, int, error) {
	query := `
		SELECT ` + groupColumns + `, count(*) OVER() AS total_count
		FROM order_groups
		WHERE seller_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, sellerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list groups by seller: %w", err)
	}
	defer rows.Close()

	var (
		groups []domain.OrderGroup
		ids    []string
		total  int
	)
	for rows.Next() {
		g, err := scanGroup(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan group row: %w", err)
		}
		groups = append(groups, *g)
		ids = append(ids, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate group rows: %w", err)
	}

	if len(ids) == 0 {
		return []domain.OrderGroup{}, total, nil
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range groups {
		groups[i].Lines = lines[groups[i].ID]
	}

	return groups, total, nil
}

// UpdateGroupStatus moves a group from one status to another, restocking
// its lines in the same transaction when the target is CANCELLED.
func (r *OrderRepository) UpdateGroupStatus(ctx context.Context, groupID, from, to, trackingNumber string) (err error) {
	query := `
		UPDATE order_groups
		SET status = $3,
			tracking_number = COALESCE(NULLIF($4, ''), tracking_number),
			updated_at = NOW()
		WHERE id = $1 AND status = $2`

	ctx, end := database.TraceQuery(ctx, "UpdateGroupStatus", query)
	defer func() { end(err) }()

	return database.InTx(ctx, r.pool, txOptions, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, groupID, from, to, trackingNumber)
		if err != nil {
			return fmt.Errorf("update group status: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var current string
			err := tx.QueryRow(ctx, `SELECT status FROM order_groups WHERE id = $1`, groupID).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("order group", groupID)
			}
			if err != nil {
				return fmt.Errorf("read group status: %w", err)
			}
			return apperrors.Conflict(fmt.Sprintf("group %s is %s, not %s", groupID, current, from))
		}

		if to == domain.GroupStatusCancelled {
			if _, err := tx.Exec(ctx, restockSQL, []string{groupID}); err != nil {
				return fmt.Errorf("restock group: %w", err)
			}
		}
		return nil
	})
}

// ConfirmPayment records a captured payment and confirms pending groups.
func (r *OrderRepository) ConfirmPayment(ctx context.Context, orderID, reference string) (err error) {
	query := `
		UPDATE orders
		SET payment_status = $2, payment_reference = $3
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "ConfirmPayment", query)
	defer func() { end(err) }()

	return database.InTx(ctx, r.pool, txOptions, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, orderID, domain.PaymentStatusCaptured, reference)
		if err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("order", orderID)
		}

		groupQuery := `
			UPDATE order_groups
			SET status = $2, updated_at = NOW()
			WHERE order_id = $1 AND status = $3`

		if _, err := tx.Exec(ctx, groupQuery, orderID, domain.GroupStatusConfirmed, domain.GroupStatusPending); err != nil {
			return fmt.Errorf("confirm groups: %w", err)
		}
		return nil
	})
}

// CancelOrder marks the payment failed, cancels every open group and puts
// their stock back, atomically.
func (r *OrderRepository) CancelOrder(ctx context.Context, orderID string) (err error) {
	query := `UPDATE orders SET payment_status = $2 WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "CancelOrder", query)
	defer func() { end(err) }()

	return database.InTx(ctx, r.pool, txOptions, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, orderID, domain.PaymentStatusFailed)
		if err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("order", orderID)
		}

		groupQuery := `
			UPDATE order_groups
			SET status = $2, updated_at = NOW()
			WHERE order_id = $1 AND status = ANY($3)
			RETURNING id`

		rows, err := tx.Query(ctx, groupQuery, orderID, domain.GroupStatusCancelled, domain.CancellableStatuses())
		if err != nil {
			return fmt.Errorf("cancel groups: %w", err)
		}
		var cancelled []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan cancelled group: %w", err)
			}
			cancelled = append(cancelled, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate cancelled groups: %w", err)
		}

		if len(cancelled) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, restockSQL, cancelled); err != nil {
			return fmt.Errorf("restock cancelled groups: %w", err)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// loading helpers
// ---------------------------------------------------------------------------

func scanOrder(row pgx.Row, extra ...any) (*domain.Order, error) {
	var (
		o       domain.Order
		address []byte
	)
	dest := append([]any{
		&o.ID,
		&o.BuyerID,
		&o.CartID,
		&address,
		&o.GrandTotal,
		&o.Currency,
		&o.PaymentStatus,
		&o.PaymentReference,
		&o.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	return &o, nil
}

func scanGroup(row pgx.Row, extra ...any) (*domain.OrderGroup, error) {
	var g domain.OrderGroup
	dest := append([]any{
		&g.ID,
		&g.OrderID,
		&g.SellerID,
		&g.SubTotal,
		&g.ShippingFeesTotal,
		&g.CouponID,
		&g.CouponCode,
		&g.DiscountAmount,
		&g.Total,
		&g.Status,
		&g.TrackingNumber,
		&g.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &g, nil
}

// loadGroups returns the groups of orderIDs, with lines, keyed by order id
// and in their original order.
func (r *OrderRepository) loadGroups(ctx context.Context, orderIDs []string) (map[string][]domain.OrderGroup, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM order_groups
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`

	rows, err := r.pool.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order groups: %w", err)
	}
	defer rows.Close()

	var (
		groups []domain.OrderGroup
		ids    []string
	)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order group: %w", err)
		}
		groups = append(groups, *g)
		ids = append(ids, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order groups: %w", err)
	}

	out := make(map[string][]domain.OrderGroup, len(orderIDs))
	if len(ids) == 0 {
		return out, nil
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		g.Lines = lines[g.ID]
		out[g.OrderID] = append(out[g.OrderID], g)
	}
	return out, nil
}

// loadLines returns the lines of groupIDs keyed by group id.
func (r *OrderRepository) loadLines(ctx context.Context, groupIDs []string) (map[string][]domain.OrderLine, error) {
	query := `
		SELECT ` + lineColumns + `
		FROM order_lines
		WHERE group_id = ANY($1)
		ORDER BY group_id, position`

	rows, err := r.pool.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.OrderLine, len(groupIDs))
	for rows.Next() {
		var (
			l      domain.OrderLine
			method string
		)
		if err := rows.Scan(
			&l.ID,
			&l.GroupID,
			&l.ProductID,
			&l.VariantID,
			&l.SizeID,
			&l.Quantity,
			&l.UnitPrice,
			&l.Weight,
			&method,
			&l.ShippingFee,
			&l.IsFreeShipping,
			&l.DeliveryTimeMinDays,
			&l.DeliveryTimeMaxDays,
			&l.ShippingServiceName,
			&l.ReturnPolicy,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		l.ShippingMethod = domain.ShippingMethod(method)
		out[l.GroupID] = append(out[l.GroupID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return out, nil
}
