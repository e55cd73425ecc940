package provision

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"cloudforge/internal/logging"
	"cloudforge/internal/provider"
)

const (
	databasePort     = 3306
	databaseRootUser = "root"

	passwordPrefix  = "Forge@"
	passwordLength  = 15
	passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789@#$%"
)

// generateRootPassword builds a password that satisfies the upper/lower/
// digit/special composition rules common to managed MySQL offerings. The
// fixed prefix guarantees the required character classes.
func generateRootPassword() (string, error) {
	chars := make([]byte, passwordLength)
	max := big.NewInt(int64(len(passwordCharset)))
	for i := range chars {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		chars[i] = passwordCharset[n.Int64()]
	}
	return passwordPrefix + string(chars), nil
}

// createDatabaseAcrossZones mirrors the instance zone loop for the managed
// database.
func (o *Orchestrator) createDatabaseAcrossZones(ctx context.Context, req provider.DatabaseRequest, zones []string) (string, error) {
	for _, zone := range zones {
		req.Zone = zone
		req.SubnetID = o.res.Subnets[zone]

		id, err := o.api.CreateDatabase(ctx, req)
		if err == nil {
			logging.Logger().Info("database accepted",
				zap.String("database_id", id),
				zap.String("zone", zone))
			o.res.DatabaseID = id
			o.res.DatabaseZone = zone
			return id, nil
		}
		if errors.Is(err, provider.ErrZoneUnavailable) {
			logging.Logger().Warn("zone cannot host database, trying next",
				zap.String("zone", zone),
				zap.Error(err))
			continue
		}
		return "", fmt.Errorf("failed to create database in zone %s: %w", zone, err)
	}
	return "", fmt.Errorf("%w: database rejected by all %d zones", ErrNoZoneAvailable, len(zones))
}

// waitDatabaseReady polls until the database reports running and has an
// endpoint, or the deadline passes.
func (o *Orchestrator) waitDatabaseReady(ctx context.Context, id string, interval, maxWait time.Duration) (*provider.DatabaseStatus, error) {
	deadline := time.Now().Add(maxWait)
	for {
		status, err := o.api.DescribeDatabase(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to poll database %s: %w", id, err)
		}
		if status.State == provider.StateRunning && status.Host != "" {
			return status, nil
		}
		logging.Logger().Debug("waiting for database",
			zap.String("database_id", id),
			zap.String("state", status.State))

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: database %s still %s after %s", ErrProvisioningTimeout, id, status.State, maxWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
