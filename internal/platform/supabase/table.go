package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/starford/catnip/internal/models"
	"github.com/starford/catnip/internal/platform"
)

// catRow is the PostgREST representation of a cat. The id column may be a
// uuid or a bigint depending on how the table was created.
type catRow struct {
	ID        rowID   `json:"id"`
	Name      string  `json:"name"`
	Age       int     `json:"age"`
	Breed     string  `json:"breed"`
	OwnerID   string  `json:"owner_id"`
	CreatedAt rowTime `json:"created_at"`
}

func (r catRow) model() models.Cat {
	return models.Cat{
		ID:        string(r.ID),
		Name:      r.Name,
		Age:       r.Age,
		Breed:     r.Breed,
		OwnerID:   r.OwnerID,
		CreatedAt: time.Time(r.CreatedAt),
	}
}

type rowID string

func (id *rowID) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(b, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = rowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = rowID(n.String())
	return nil
}

// rowTime accepts both timestamptz and timestamp columns. Values without
// an offset are taken as UTC.
type rowTime time.Time

var rowTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

func (t *rowTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = rowTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range rowTimeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			*t = rowTime(v)
			return nil
		}
	}
	return fmt.Errorf("supabase: unrecognised timestamp %q", s)
}

type catTable struct {
	client *client
}

// query runs fn against the cats table with the caller's current token.
func (t *catTable) query(ctx context.Context, op string, fn func(q *postgrest.QueryBuilder) error) error {
	// Refreshes the token first when it is about to expire.
	if _, err := t.client.GetSession(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.client.mu.Lock()
	q := t.client.sb.From(platform.CatsTable)
	err := fn(q)
	t.client.mu.Unlock()
	if err != nil {
		return restError(op, err)
	}
	return nil
}

func (t *catTable) List(ctx context.Context) ([]models.Cat, error) {
	var rows []catRow
	err := t.query(ctx, "list "+platform.CatsTable, func(q *postgrest.QueryBuilder) error {
		_, err := q.Select("*", "", false).
			Order("created_at", &postgrest.OrderOpts{Ascending: false}).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	cats := make([]models.Cat, 0, len(rows))
	for _, r := range rows {
		cats = append(cats, r.model())
	}
	return cats, nil
}

func (t *catTable) Insert(ctx context.Context, row platform.NewCat) (*models.Cat, error) {
	var out catRow
	err := t.query(ctx, "insert "+platform.CatsTable, func(q *postgrest.QueryBuilder) error {
		_, err := q.Insert(row, false, "", "representation", "").Single().ExecuteTo(&out)
		return err
	})
	if err != nil {
		return nil, err
	}
	c := out.model()
	return &c, nil
}

func (t *catTable) Update(ctx context.Context, id string, patch models.CatPatch) (*models.Cat, error) {
	var out catRow
	err := t.query(ctx, "update "+platform.CatsTable, func(q *postgrest.QueryBuilder) error {
		_, err := q.Update(patch, "representation", "").Eq("id", id).Single().ExecuteTo(&out)
		return err
	})
	if err != nil {
		return nil, err
	}
	c := out.model()
	return &c, nil
}

func (t *catTable) Delete(ctx context.Context, id string) error {
	return t.query(ctx, "delete "+platform.CatsTable, func(q *postgrest.QueryBuilder) error {
		_, _, err := q.Delete("minimal", "").Eq("id", id).Execute()
		return err
	})
}
