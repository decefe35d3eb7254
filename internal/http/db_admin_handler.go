package http

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitecraft/builder-service/internal/db"
)

// DBAdminHandler lets operators browse the provisioning tables read-only.
// Only the service's own tables are reachable.
type DBAdminHandler struct {
	pool   *pgxpool.Pool
	schema string
	tables map[string]bool
}

func NewDBAdminHandler(pool *pgxpool.Pool, schema string) *DBAdminHandler {
	tables := make(map[string]bool, len(db.Tables))
	for _, t := range db.Tables {
		tables[t] = true
	}
	return &DBAdminHandler{pool: pool, schema: schema, tables: tables}
}

var sensitivePatterns = []string{"password", "secret", "api_key", "admin_key", "token"}

func isSensitiveColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ListTables returns the service tables with approximate row counts
// GET /tables
func (h *DBAdminHandler) ListTables(c *gin.Context) {
	rows, err := h.pool.Query(c.Request.Context(), `
		SELECT t.table_name, COALESCE(s.n_live_tup, 0)::int AS row_count
		FROM information_schema.tables t
		LEFT JOIN pg_stat_user_tables s
		  ON s.schemaname = t.table_schema AND s.relname = t.table_name
		WHERE t.table_schema = $1 AND t.table_name = ANY($2)
		ORDER BY t.table_name
	`, h.schema, db.Tables)
	if err != nil {
		respondError(c, fmt.Errorf("list tables: %w", err))
		return
	}
	defer rows.Close()

	type tableInfo struct {
		Name     string `json:"name"`
		RowCount int    `json:"row_count"`
	}
	tables := []tableInfo{}
	for rows.Next() {
		var t tableInfo
		if err := rows.Scan(&t.Name, &t.RowCount); err != nil {
			respondError(c, fmt.Errorf("scan table: %w", err))
			return
		}
		tables = append(tables, t)
	}

	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// GetTableSchema returns column definitions for a table
// GET /tables/:table/schema
func (h *DBAdminHandler) GetTableSchema(c *gin.Context) {
	table := c.Param("table")
	if !h.tables[table] {
		tableNotFound(c, table)
		return
	}

	rows, err := h.pool.Query(c.Request.Context(), `
		SELECT column_name, data_type, is_nullable = 'YES', column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, h.schema, table)
	if err != nil {
		respondError(c, fmt.Errorf("describe %s: %w", table, err))
		return
	}
	defer rows.Close()

	type columnInfo struct {
		Name     string  `json:"name"`
		Type     string  `json:"type"`
		Nullable bool    `json:"nullable"`
		Default  *string `json:"default,omitempty"`
	}
	columns := []columnInfo{}
	for rows.Next() {
		var col columnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default); err != nil {
			respondError(c, fmt.Errorf("scan column: %w", err))
			return
		}
		columns = append(columns, col)
	}

	c.JSON(http.StatusOK, gin.H{"table": table, "columns": columns})
}

// rowQuery is a page request against one table.
type rowQuery struct {
	table    string
	status   string
	page     int
	pageSize int
	desc     bool
}

func parseRowQuery(c *gin.Context) rowQuery {
	q := rowQuery{
		table:  c.Param("table"),
		status: c.Query("status"),
		desc:   c.DefaultQuery("sort_order", "desc") != "asc",
	}
	q.page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	q.pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if q.page < 1 {
		q.page = 1
	}
	if q.pageSize < 1 || q.pageSize > 100 {
		q.pageSize = 50
	}
	return q
}

// sql builds the count and select statements. Every service table has
// created_at; all but pages and plugins have status.
func (q rowQuery) sql(schema string) (count, data string, args []interface{}) {
	from := pgx.Identifier{schema, q.table}.Sanitize()

	where := ""
	if q.status != "" {
		where = " WHERE status = $1"
		args = append(args, q.status)
	}
	order := "DESC"
	if !q.desc {
		order = "ASC"
	}

	count = "SELECT COUNT(*) FROM " + from + where
	data = fmt.Sprintf("SELECT * FROM %s%s ORDER BY created_at %s LIMIT $%d OFFSET $%d",
		from, where, order, len(args)+1, len(args)+2)
	return count, data, args
}

// QueryRows returns a page of rows, newest first unless sort_order=asc
// GET /tables/:table/rows?page=1&page_size=50&status=&sort_order=desc
func (h *DBAdminHandler) QueryRows(c *gin.Context) {
	q := parseRowQuery(c)
	if !h.tables[q.table] {
		tableNotFound(c, q.table)
		return
	}
	if q.status != "" && (q.table == "pages" || q.table == "plugins") {
		badRequest(c, fmt.Sprintf("table %q has no status column", q.table))
		return
	}

	ctx := c.Request.Context()
	countSQL, dataSQL, args := q.sql(h.schema)

	var total int
	if err := h.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		respondError(c, fmt.Errorf("count %s: %w", q.table, err))
		return
	}

	results, err := h.fetchRows(ctx, dataSQL, append(args, q.pageSize, (q.page-1)*q.pageSize)...)
	if err != nil {
		respondError(c, fmt.Errorf("query %s: %w", q.table, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"table":     q.table,
		"rows":      results,
		"total":     total,
		"page":      q.page,
		"page_size": q.pageSize,
	})
}

func (h *DBAdminHandler) fetchRows(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := h.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = maskValue(fd.Name, values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func maskValue(column string, v interface{}) interface{} {
	if isSensitiveColumn(column) {
		return "***"
	}
	return formatValue(v)
}

// formatValue converts pgx native types to JSON-friendly representations.
func formatValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case [16]byte:
		h := hex.EncodeToString(val[:])
		return h[:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:]
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func tableNotFound(c *gin.Context, table string) {
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("table %q not found", table), "code": "not_found"})
}
