package services

import (
	"context"
	"errors"
	"sync"

	"github.com/Velocidex/ordereddict"
)

var (
	reputation_mu sync.Mutex
	g_reputation  ReputationService

	// No credential is stored for the reputation service.
	ErrNotConfigured = errors.New("Service not configured")
)

func GetReputationService() (ReputationService, error) {
	reputation_mu.Lock()
	defer reputation_mu.Unlock()

	if g_reputation == nil {
		return nil, notReady("Reputation")
	}
	return g_reputation, nil
}

func RegisterReputationService(s ReputationService) {
	reputation_mu.Lock()
	defer reputation_mu.Unlock()

	g_reputation = s
}

type ReputationService interface {
	// Returns the last analysis stats for the hash. ErrNotConfigured
	// means there are no credentials.
	Lookup(ctx context.Context, sha256 string) (*ordereddict.Dict, error)
}
