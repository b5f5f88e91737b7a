package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	getMonitoredAddressSQL = `SELECT id, address, chain, address_type, detected_events, last_indexed_at
    FROM monitored_addresses WHERE address = $1 AND chain = $2;`

	insertMonitoredAddressSQL = `INSERT INTO monitored_addresses (id, address, chain, address_type, detected_events)
    VALUES ($1, $2, $3, $4, 0)
    ON CONFLICT (address, chain) DO UPDATE SET address = EXCLUDED.address
    RETURNING id, address, chain, address_type, detected_events, last_indexed_at;`

	touchMonitoredAddressSQL = `UPDATE monitored_addresses
    SET detected_events = detected_events + 1, last_indexed_at = $3
    WHERE address = $1 AND chain = $2;`
)

// GetOrCreateMonitoredAddress returns the existing row for (address, chain)
// or lazily creates one with addressType, per §9's "created on first
// subscription referencing it" supplemented behavior.
func (s *Store) GetOrCreateMonitoredAddress(ctx context.Context, chain Chain, address string, addressType AddressType) (MonitoredAddress, error) {
	pool, err := s.getPool()
	if err != nil {
		return MonitoredAddress{}, err
	}

	ma, err := s.getMonitoredAddress(ctx, chain, address)
	if err == nil {
		return ma, nil
	}
	if !isNoRows(err) {
		return MonitoredAddress{}, err
	}

	var out MonitoredAddress
	var chainStr, typeStr string
	err = pool.QueryRow(ctx, insertMonitoredAddressSQL, uuid.New(), address, string(chain), string(addressType)).
		Scan(&out.ID, &out.Address, &chainStr, &typeStr, &out.DetectedEvents, &out.LastIndexedAt)
	if err != nil {
		return MonitoredAddress{}, err
	}
	out.Chain = Chain(chainStr)
	out.AddressType = AddressType(typeStr)
	return out, nil
}

func (s *Store) getMonitoredAddress(ctx context.Context, chain Chain, address string) (MonitoredAddress, error) {
	pool, err := s.getPool()
	if err != nil {
		return MonitoredAddress{}, err
	}

	var out MonitoredAddress
	var chainStr, typeStr string
	err = pool.QueryRow(ctx, getMonitoredAddressSQL, address, string(chain)).
		Scan(&out.ID, &out.Address, &chainStr, &typeStr, &out.DetectedEvents, &out.LastIndexedAt)
	if err != nil {
		return MonitoredAddress{}, err
	}
	out.Chain = Chain(chainStr)
	out.AddressType = AddressType(typeStr)
	return out, nil
}

// TouchMonitoredAddress bumps the detected-event counter and last-indexed
// timestamp for address, called once per matched event by the Alert
// Matcher.
func (s *Store) TouchMonitoredAddress(ctx context.Context, chain Chain, address string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, touchMonitoredAddressSQL, address, string(chain), at)
	return err
}
