package timeplus

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/timeplus-io/proton-go-driver/v2"
	"github.com/timeplus-io/proton-go-driver/v2/lib/driver"

	"github.com/propline-io/escalation-gateway/pkg/config"
)

// Column represents a column definition
type Column struct {
	Name     string
	Type     string
	Nullable bool // Whether the column can be NULL
}

// Client is a wrapper around the Timeplus Proton Go driver connection
type Client struct {
	conn      driver.Conn
	workspace string
	opts      *proton.Options // Kept for reconnects
}

// NewClient creates a new Timeplus client
func NewClient(cfg *config.TimeplusConfig) (*Client, error) {
	logrus.Infof("Connecting to Timeplus at %s (workspace: %s)", cfg.Address, cfg.Workspace)

	address := cfg.Address
	address = strings.TrimPrefix(address, "http://")
	address = strings.TrimPrefix(address, "https://")
	if !strings.Contains(address, ":") {
		address += ":8464" // Default native port
	}

	opts := &proton.Options{
		Addr: []string{address},
		Auth: proton.Auth{
			Database: cfg.Workspace,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		Compression: &proton.Compression{
			Method: proton.CompressionLZ4,
		},
	}

	conn, err := proton.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to Timeplus: %w", err)
	}

	// Test the connection with retries; a cold broker can take a few
	// seconds to accept native-protocol pings.
	var pingErr error
	for i := 0; i < 5; i++ {
		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pingErr = conn.Ping(pingCtx)
		cancel()
		if pingErr == nil {
			break
		}
		logrus.Warnf("Failed to ping Timeplus (attempt %d/5): %v", i+1, pingErr)
		time.Sleep(2 * time.Second)
	}
	if pingErr != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping Timeplus after multiple attempts: %w", pingErr)
	}

	logrus.Info("Successfully connected to Timeplus")
	return &Client{
		conn:      conn,
		workspace: cfg.Workspace,
		opts:      opts,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// streamExists checks if a stream exists
func (c *Client) streamExists(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf("SHOW STREAMS LIKE '%s'", escapeSQL(name))
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return false, fmt.Errorf("failed to execute SHOW STREAMS: %w", err)
	}
	defer rows.Close()

	exists := rows.Next()
	if rows.Err() != nil {
		return false, fmt.Errorf("error checking rows from SHOW STREAMS: %w", rows.Err())
	}
	return exists, nil
}

// EnsureMutableStream creates a mutable stream keyed by the given primary
// key if it does not already exist. The primary key is what turns a
// second insert for the same key into an upsert of one row instead of a
// duplicate.
func (c *Client) EnsureMutableStream(ctx context.Context, name string, schema []Column, primaryKeys []string) error {
	exists, err := c.streamExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check if stream exists: %w", err)
	}
	if exists {
		logrus.Debugf("Mutable stream %s already exists", name)
		return nil
	}

	query := fmt.Sprintf("CREATE MUTABLE STREAM `%s` (%s) PRIMARY KEY (%s)",
		name, columnsDDL(schema), strings.Join(primaryKeys, ", "))
	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create mutable stream '%s': %w", name, err)
	}
	logrus.Infof("Created mutable stream %s", name)
	return nil
}

// ExecuteQuery executes a query and returns the result rows
func (c *Client) ExecuteQuery(ctx context.Context, query string) ([]map[string]interface{}, error) {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logrus.Warnf("Retrying query execution (attempt %d/%d) after error: %v", attempt+1, maxRetries, lastErr)
			// Native-protocol EOFs mean the connection died under us;
			// reconnect before retrying.
			if lastErr != nil && strings.Contains(lastErr.Error(), "EOF") {
				reconnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
				if err := c.reconnect(reconnCtx); err != nil {
					logrus.Errorf("Failed to reconnect: %v", err)
				}
				cancel()
			}
			time.Sleep(time.Duration(1<<uint(attempt)) * time.Second)
		}

		result, err := c.queryToMaps(ctx, query)
		if err != nil {
			lastErr = err
			if strings.Contains(err.Error(), "EOF") {
				continue
			}
			return nil, err
		}
		return result, nil
	}

	return nil, fmt.Errorf("failed to execute query after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) queryToMaps(ctx context.Context, query string) ([]map[string]interface{}, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	rows, err := c.conn.Query(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames := rows.Columns()
	columnTypes := rows.ColumnTypes()

	result := make([]map[string]interface{}, 0)
	for rows.Next() {
		scanArgs := make([]interface{}, len(columnNames))
		for i, ct := range columnTypes {
			scanArgs[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rowMap := make(map[string]interface{}, len(columnNames))
		for i, name := range columnNames {
			rowMap[name] = reflect.ValueOf(scanArgs[i]).Elem().Interface()
		}
		result = append(result, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

// InsertIntoStream inserts data into a stream
func (c *Client) InsertIntoStream(ctx context.Context, streamName string, columns []string, values []interface{}) error {
	formattedValues := make([]string, len(values))
	for i, val := range values {
		formattedValues[i] = formatValue(val)
	}

	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		streamName, strings.Join(columns, ", "), strings.Join(formattedValues, ", "))

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logrus.Warnf("Retrying insertion to stream '%s' (attempt %d/%d) after error: %v",
				streamName, attempt+1, maxRetries, lastErr)
			if lastErr != nil && strings.Contains(lastErr.Error(), "EOF") {
				reconnCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				if err := c.reconnect(reconnCtx); err != nil {
					logrus.Errorf("Failed to reconnect: %v", err)
				}
				cancel()
			}
			time.Sleep(time.Duration(1<<uint(attempt-1)) * time.Second)
		}

		if err := c.conn.Exec(ctx, query); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("failed to insert into stream after %d attempts: %w", maxRetries, lastErr)
}

// reconnect tries to reestablish the connection with retries
func (c *Client) reconnect(ctx context.Context) error {
	logrus.Info("Attempting to reconnect to Timeplus...")

	if c.conn != nil {
		c.conn.Close()
	}

	const maxRetries = 5
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		delay := time.Duration(1<<uint(i)) * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		if i > 0 {
			time.Sleep(delay)
		}

		conn, err := proton.Open(c.opts)
		if err != nil {
			lastErr = err
			logrus.Warnf("Failed to reconnect (attempt %d/%d): %v", i+1, maxRetries, err)
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := conn.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			conn.Close()
			lastErr = pingErr
			logrus.Warnf("Connection established but ping failed: %v", pingErr)
			continue
		}

		c.conn = conn
		logrus.Info("Successfully reconnected to Timeplus")
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", maxRetries, lastErr)
}

// columnsDDL renders a schema as a column definition list.
func columnsDDL(schema []Column) string {
	parts := make([]string, len(schema))
	for i, col := range schema {
		nullable := ""
		if col.Nullable {
			nullable = " NULL"
		}
		parts[i] = fmt.Sprintf("`%s` %s%s", col.Name, col.Type, nullable)
	}
	return strings.Join(parts, ", ")
}

// escapeSQL escapes single quotes for use inside SQL string literals.
func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// formatValue renders a Go value as a SQL literal.
func formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("'%s'", escapeSQL(v))
	case time.Time:
		return fmt.Sprintf("'%s'", v.UTC().Format("2006-01-02 15:04:05.000"))
	case bool:
		return fmt.Sprintf("%t", v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%f", v)
	default:
		return fmt.Sprintf("'%s'", escapeSQL(fmt.Sprintf("%v", v)))
	}
}
