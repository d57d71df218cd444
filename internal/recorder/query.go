package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GroupAddress is a row of knx_group_addresses.
type GroupAddress struct {
	Address         string
	FirstSeen       time.Time
	LastSeen        time.Time
	MessageCount    int64
	HasReadResponse bool

	// Empty when never recorded.
	LastSource   string
	LastPayload  string
	GuessedDPT   string
	GuessedValue string
}

// Device is a row of knx_devices.
type Device struct {
	Address      string
	FirstSeen    time.Time
	LastSeen     time.Time
	MessageCount int64
}

// GroupAddresses returns recorded group addresses, most recently seen first.
// limit <= 0 returns all of them.
func (r *Recorder) GroupAddresses(ctx context.Context, limit int) ([]GroupAddress, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_address, first_seen, last_seen, message_count, has_read_response,
		       last_source, last_payload, guessed_dpt, guessed_value
		FROM knx_group_addresses
		ORDER BY last_seen DESC, group_address
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying group addresses: %w", err)
	}
	defer rows.Close()

	var out []GroupAddress
	for rows.Next() {
		var (
			ga                              GroupAddress
			first, last                     int64
			hasResponse                     int
			source, payload, dpt, valueText sql.NullString
		)
		if err := rows.Scan(&ga.Address, &first, &last, &ga.MessageCount, &hasResponse,
			&source, &payload, &dpt, &valueText); err != nil {
			return nil, fmt.Errorf("scanning group address: %w", err)
		}
		ga.FirstSeen = time.Unix(first, 0)
		ga.LastSeen = time.Unix(last, 0)
		ga.HasReadResponse = hasResponse != 0
		ga.LastSource = source.String
		ga.LastPayload = payload.String
		ga.GuessedDPT = dpt.String
		ga.GuessedValue = valueText.String
		out = append(out, ga)
	}
	return out, rows.Err()
}

// Devices returns recorded devices, most recently seen first.
// limit <= 0 returns all of them.
func (r *Recorder) Devices(ctx context.Context, limit int) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT individual_address, first_seen, last_seen, message_count
		FROM knx_devices
		ORDER BY last_seen DESC, individual_address
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var (
			d           Device
			first, last int64
		)
		if err := rows.Scan(&d.Address, &first, &last, &d.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.FirstSeen = time.Unix(first, 0)
		d.LastSeen = time.Unix(last, 0)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Counts returns the number of recorded group addresses and devices.
func (r *Recorder) Counts(ctx context.Context) (groupAddresses, devices int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM knx_group_addresses), (SELECT COUNT(*) FROM knx_devices)
	`).Scan(&groupAddresses, &devices)
	if err != nil {
		return 0, 0, fmt.Errorf("counting recorded addresses: %w", err)
	}
	return groupAddresses, devices, nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
