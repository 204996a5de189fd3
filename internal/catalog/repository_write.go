package catalog

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const productReturning = "RETURNING id, category_id, name, description, price_cents, is_featured, rating_average, review_count, created_at, updated_at"

// inTx runs fn in a transaction, rolling back when fn fails.
func (r *Repository) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate(op, err)
	}
	return nil
}

func (r *Repository) CreateReview(ctx context.Context, in ReviewInput) (Review, error) {
	const op = "CreateReview"
	if err := in.Validate(); err != nil {
		return Review{}, err
	}

	query, args, err := r.qb().Insert("reviews").
		Columns("product_id", "user_id", "rating", "body").
		Values(in.ProductID, in.UserID, in.Rating, in.Body).
		Suffix("RETURNING " + reviewColumns).
		ToSql()
	if err != nil {
		return Review{}, translate(op, err)
	}

	start := time.Now()
	rv, err := scanReview(r.db.QueryRowContext(ctx, query, args...))
	r.logSQL(op, query, args, start, err)
	return rv, translate(op, err)
}

func (r *Repository) UpdateReview(ctx context.Context, id int64, patch ReviewPatch) (Review, error) {
	const op = "UpdateReview"
	if err := patch.Validate(); err != nil {
		return Review{}, err
	}

	ub := r.qb().Update("reviews").Set("updated_at", sq.Expr("now()"))
	if patch.Rating != nil {
		ub = ub.Set("rating", *patch.Rating)
	}
	if patch.Body != nil {
		ub = ub.Set("body", *patch.Body)
	}
	query, args, err := ub.Where(sq.Eq{"id": id}).Suffix("RETURNING " + reviewColumns).ToSql()
	if err != nil {
		return Review{}, translate(op, err)
	}

	start := time.Now()
	rv, err := scanReview(r.db.QueryRowContext(ctx, query, args...))
	r.logSQL(op, query, args, start, err)
	return rv, translate(op, err)
}

// DeleteReview removes a review and returns it.
func (r *Repository) DeleteReview(ctx context.Context, id int64) (Review, error) {
	const op = "DeleteReview"

	query, args, err := r.qb().Delete("reviews").
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + reviewColumns).
		ToSql()
	if err != nil {
		return Review{}, translate(op, err)
	}

	start := time.Now()
	rv, err := scanReview(r.db.QueryRowContext(ctx, query, args...))
	r.logSQL(op, query, args, start, err)
	return rv, translate(op, err)
}

// RecomputeProductStats recomputes a product's rating average and review
// count from all of its reviews and stores them, in one transaction holding
// the product row lock. It never adjusts the stored values incrementally.
func (r *Repository) RecomputeProductStats(ctx context.Context, productID int64) (StatsChange, error) {
	const op = "RecomputeProductStats"
	change := StatsChange{ProductID: productID}

	err := r.inTx(ctx, op, func(tx *sql.Tx) error {
		query, args, err := r.qb().Select("category_id", "rating_average", "review_count").
			From("products").
			Where(sq.Eq{"id": productID}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return translate(op, err)
		}

		var avg sql.NullFloat64
		start := time.Now()
		err = tx.QueryRowContext(ctx, query, args...).Scan(&change.CategoryID, &avg, &change.Before.Count)
		r.logSQL(op+".lock", query, args, start, err)
		if err != nil {
			return translate(op, err)
		}
		change.Before.Average = floatPtr(avg)

		query, args, err = r.qb().Select("rating").
			From("reviews").
			Where(sq.Eq{"product_id": productID}).
			ToSql()
		if err != nil {
			return translate(op, err)
		}

		start = time.Now()
		rows, err := tx.QueryContext(ctx, query, args...)
		r.logSQL(op+".ratings", query, args, start, err)
		if err != nil {
			return translate(op, err)
		}
		var ratings []int
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				_ = rows.Close()
				return translate(op, err)
			}
			ratings = append(ratings, v)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return translate(op, err)
		}

		change.After = ComputeStats(ratings)

		var average any
		if change.After.Average != nil {
			average = *change.After.Average
		}
		query, args, err = r.qb().Update("products").
			Set("rating_average", average).
			Set("review_count", change.After.Count).
			Where(sq.Eq{"id": productID}).
			ToSql()
		if err != nil {
			return translate(op, err)
		}

		start = time.Now()
		_, err = tx.ExecContext(ctx, query, args...)
		r.logSQL(op+".update", query, args, start, err)
		return translate(op, err)
	})
	if err != nil {
		return StatsChange{}, err
	}
	return change, nil
}

// UpdateProduct applies patch and returns the product together with the
// category it belonged to before the update.
func (r *Repository) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, int64, error) {
	const op = "UpdateProduct"
	if err := patch.Validate(); err != nil {
		return Product{}, 0, err
	}

	var (
		out          Product
		prevCategory int64
	)
	err := r.inTx(ctx, op, func(tx *sql.Tx) error {
		query, args, err := r.qb().Select("category_id").
			From("products").
			Where(sq.Eq{"id": id}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return translate(op, err)
		}
		start := time.Now()
		err = tx.QueryRowContext(ctx, query, args...).Scan(&prevCategory)
		r.logSQL(op+".lock", query, args, start, err)
		if err != nil {
			return translate(op, err)
		}

		ub := r.qb().Update("products").Set("updated_at", sq.Expr("now()"))
		if patch.CategoryID != nil {
			ub = ub.Set("category_id", *patch.CategoryID)
		}
		if patch.Name != nil {
			ub = ub.Set("name", *patch.Name)
		}
		if patch.Description != nil {
			ub = ub.Set("description", *patch.Description)
		}
		if patch.PriceCents != nil {
			ub = ub.Set("price_cents", *patch.PriceCents)
		}
		if patch.Featured != nil {
			ub = ub.Set("is_featured", *patch.Featured)
		}
		query, args, err = ub.Where(sq.Eq{"id": id}).Suffix(productReturning).ToSql()
		if err != nil {
			return translate(op, err)
		}

		start = time.Now()
		out, err = scanProduct(tx.QueryRowContext(ctx, query, args...))
		r.logSQL(op, query, args, start, err)
		return translate(op, err)
	})
	if err != nil {
		return Product{}, 0, err
	}
	return out, prevCategory, nil
}

func (r *Repository) UpdateCategory(ctx context.Context, id int64, patch CategoryPatch) (Category, error) {
	const op = "UpdateCategory"
	if err := patch.Validate(); err != nil {
		return Category{}, err
	}

	ub := r.qb().Update("categories")
	if patch.Name != nil {
		ub = ub.Set("name", *patch.Name)
	}
	if patch.Slug != nil {
		ub = ub.Set("slug", *patch.Slug)
	}
	if patch.SortOrder != nil {
		ub = ub.Set("sort_order", *patch.SortOrder)
	}
	query, args, err := ub.Where(sq.Eq{"id": id}).
		Suffix("RETURNING id, name, slug, sort_order").
		ToSql()
	if err != nil {
		return Category{}, translate(op, err)
	}

	var c Category
	start := time.Now()
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &c.Slug, &c.SortOrder)
	r.logSQL(op, query, args, start, err)
	return c, translate(op, err)
}

func (r *Repository) UpdateBanner(ctx context.Context, id int64, patch BannerPatch) (Banner, error) {
	const op = "UpdateBanner"
	if err := patch.Validate(); err != nil {
		return Banner{}, err
	}

	ub := r.qb().Update("banners")
	if patch.Title != nil {
		ub = ub.Set("title", *patch.Title)
	}
	if patch.ImageURL != nil {
		ub = ub.Set("image_url", *patch.ImageURL)
	}
	if patch.LinkURL != nil {
		ub = ub.Set("link_url", *patch.LinkURL)
	}
	if patch.Active != nil {
		ub = ub.Set("active", *patch.Active)
	}
	if patch.SortOrder != nil {
		ub = ub.Set("sort_order", *patch.SortOrder)
	}
	query, args, err := ub.Where(sq.Eq{"id": id}).
		Suffix("RETURNING id, title, image_url, link_url, active, sort_order").
		ToSql()
	if err != nil {
		return Banner{}, translate(op, err)
	}

	var b Banner
	start := time.Now()
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&b.ID, &b.Title, &b.ImageURL, &b.LinkURL, &b.Active, &b.SortOrder)
	r.logSQL(op, query, args, start, err)
	return b, translate(op, err)
}
