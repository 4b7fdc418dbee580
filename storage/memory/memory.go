package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/plugin-oauth/instrumentation"
	"github.com/giantswarm/plugin-oauth/internal/util"
	"github.com/giantswarm/plugin-oauth/security"
	"github.com/giantswarm/plugin-oauth/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging
	// token and code identifiers. Enough uniqueness for debugging while
	// keeping logs safe.
	tokenIDLogLength = 8
)

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, CodeStore, and TokenStore.
type Store struct {
	mu sync.RWMutex

	// Client storage
	clients      map[string]*storage.Client
	clientsPerIP map[string]int // IP address -> client count (for DoS protection)

	// Authorization code storage
	codes map[string]*storage.AuthorizationCode

	// Token storage, keyed by opaque token string
	// (confirmation claims encrypted at rest if encryptor is set)
	tokens map[string]*storage.Token

	// Security
	encryptor *security.Encryptor

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64
	tokensCountAtomic  atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientsPerIP:    make(map[string]int),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.Token),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor sets the claim encryptor for encryption at rest
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Claim encryption at rest enabled for storage")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		// Size gauges use atomic counters so metric collection never contends
		// with the main lock
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]

	s.clients[client.ClientID] = client

	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return client, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Always performs a bcrypt comparison, even for unknown clients, to prevent
// timing attacks that could reveal whether a client exists.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// Pre-computed bcrypt hash of "test", compared against when the client
	// does not exist or has no secret
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	isPublicClient := false

	if err == nil {
		if client.ClientType == "public" {
			isPublicClient = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	// Public clients authenticate by client_id alone
	if isPublicClient && err == nil {
		return nil
	}

	if err != nil {
		return fmt.Errorf("invalid client credentials")
	}

	if bcryptErr != nil {
		return fmt.Errorf("invalid client credentials")
	}

	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}

	return clients, nil
}

// CheckIPLimit checks if an IP has reached the client registration limit
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxClientsPerIP <= 0 {
		return nil // No limit
	}

	count := s.clientsPerIP[ip]
	if count >= maxClientsPerIP {
		return fmt.Errorf("client registration limit reached for IP %s (%d/%d clients)", ip, count, maxClientsPerIP)
	}

	return nil
}

// TrackClientIP increments the client count for an IP address
func (s *Store) TrackClientIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientsPerIP[ip]++
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveCode saves a freshly issued, unconfirmed authorization code
func (s *Store) SaveCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.codes[code.Code]

	s.codes[code.Code] = code

	if !existed {
		s.codesCountAtomic.Add(1)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetCode retrieves an authorization code without modifying it.
// Returns a copy to prevent callers from mutating the stored version.
// The snapshot is taken while the read lock is held; ConfirmCode mutates
// the stored code in place, so reading it unlocked would race.
func (s *Store) GetCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	encryptor := s.encryptor
	authCode, ok := s.codes[code]
	var codeCopy *storage.AuthorizationCode
	if ok {
		codeCopy = snapshotCode(authCode)
	}
	s.mu.RUnlock()

	if !ok {
		return nil, storage.ErrCodeNotFound
	}

	// Clock skew grace period prevents false expiry at the window edge
	if security.IsExpired(codeCopy.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	return decryptCodeClaims(codeCopy, encryptor)
}

// ConfirmCode marks a code as confirmed with the approved scopes and claims.
// Confirming an already-confirmed code fails with ErrCodeAlreadyConfirmed.
func (s *Store) ConfirmCode(ctx context.Context, code string, confirmation *storage.ConfirmationData) error {
	ctx, span := s.startStorageSpan(ctx, "confirm_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "confirm_code", err, startTime)
	}()

	if confirmation == nil {
		err = fmt.Errorf("confirmation cannot be nil")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return err
	}

	if security.IsExpired(authCode.ExpiresAt) {
		err = fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
		return err
	}

	// One-shot transition: the write lock makes the check-and-set atomic
	if authCode.Confirmed() {
		err = storage.ErrCodeAlreadyConfirmed
		return err
	}

	stored := confirmation
	if s.encryptor != nil && s.encryptor.IsEnabled() {
		encryptedExtra, encErr := storage.EncryptExtraFields(confirmation.Extra, s.encryptor)
		if encErr != nil {
			err = encErr
			return err
		}
		c := *confirmation
		c.Extra = encryptedExtra
		stored = &c
	}

	authCode.Confirmation = stored
	s.logger.Debug("Confirmed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return nil
}

// ConsumeCode atomically retrieves and deletes a confirmed code.
// Exactly one concurrent caller succeeds; losers receive ErrCodeNotFound.
// An unconfirmed code is left in place and ErrCodeNotConfirmed is returned.
func (s *Store) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_code", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic get-and-delete
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	if security.IsExpired(authCode.ExpiresAt) {
		err = fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
		return nil, err
	}

	// Unconfirmed codes stay in place so the login step can still complete
	if !authCode.Confirmed() {
		err = storage.ErrCodeNotConfirmed
		return nil, err
	}

	// ATOMIC DELETE - ensures only one exchange succeeds
	delete(s.codes, code)
	s.codesCountAtomic.Add(-1)

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength),
		"client_id", authCode.ClientID)

	return decryptCodeClaims(snapshotCode(authCode), s.encryptor)
}

// DeleteCode removes an authorization code
func (s *Store) DeleteCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.codes[code]; existed {
		delete(s.codes, code)
		s.codesCountAtomic.Add(-1)
	}

	s.logger.Debug("Deleted authorization code")
	return nil
}

// snapshotCode returns a deep-enough copy of the stored code. Must be called
// with the store lock held.
func snapshotCode(authCode *storage.AuthorizationCode) *storage.AuthorizationCode {
	codeCopy := *authCode
	if authCode.Confirmation != nil {
		confCopy := *authCode.Confirmation
		codeCopy.Confirmation = &confCopy
	}
	return &codeCopy
}

// decryptCodeClaims decrypts the confirmation claims on a snapshot. Safe to
// call without the lock; the snapshot is private to the caller and
// DecryptExtraFields returns a fresh map.
func decryptCodeClaims(codeCopy *storage.AuthorizationCode, encryptor *security.Encryptor) (*storage.AuthorizationCode, error) {
	if codeCopy.Confirmation != nil && encryptor != nil && encryptor.IsEnabled() {
		decrypted, err := storage.DecryptExtraFields(codeCopy.Confirmation.Extra, encryptor)
		if err != nil {
			return nil, err
		}
		codeCopy.Confirmation.Extra = decrypted
	}
	return codeCopy, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken saves an issued token keyed by its opaque identifier
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tokens[token.Token]

	stored := token
	if s.encryptor != nil && s.encryptor.IsEnabled() {
		encryptedExtra, encErr := storage.EncryptExtraFields(token.Extra, s.encryptor)
		if encErr != nil {
			err = encErr
			return err
		}
		t := *token
		t.Extra = encryptedExtra
		stored = &t
	}

	s.tokens[token.Token] = stored

	if !existed {
		s.tokensCountAtomic.Add(1)
	}

	s.logger.Debug("Saved token",
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength),
		"kind", string(token.Kind),
		"client_id", token.ClientID)
	return nil
}

// GetToken retrieves a token by its identifier and decrypts claims if necessary
func (s *Store) GetToken(ctx context.Context, tokenID string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	s.mu.RLock()
	encryptor := s.encryptor
	token, ok := s.tokens[tokenID]
	s.mu.RUnlock()

	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	// Clock skew grace period prevents false expiry at the window edge
	if security.IsExpired(token.ExpiresAt) {
		err = fmt.Errorf("%w: %s", storage.ErrTokenExpired, string(token.Kind))
		return nil, err
	}

	return copyToken(token, encryptor)
}

// ConsumeToken atomically retrieves and deletes a token.
// Exactly one concurrent caller succeeds; losers receive ErrTokenNotFound.
func (s *Store) ConsumeToken(ctx context.Context, tokenID string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_token", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic get-and-delete
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		err = fmt.Errorf("%w: token not found or already used", storage.ErrTokenNotFound)
		return nil, err
	}

	if security.IsExpired(token.ExpiresAt) {
		err = fmt.Errorf("%w: %s", storage.ErrTokenExpired, string(token.Kind))
		return nil, err
	}

	// ATOMIC DELETE - ensures only one request succeeds
	delete(s.tokens, tokenID)
	s.tokensCountAtomic.Add(-1)

	s.logger.Debug("Consumed token",
		"token_prefix", util.SafeTruncate(tokenID, tokenIDLogLength),
		"kind", string(token.Kind))

	return copyToken(token, s.encryptor)
}

// DeleteToken removes a token. Deleting an unknown token is not an error.
func (s *Store) DeleteToken(ctx context.Context, tokenID string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.tokens[tokenID]; existed {
		delete(s.tokens, tokenID)
		s.tokensCountAtomic.Add(-1)
	}

	s.logger.Debug("Deleted token",
		"token_prefix", util.SafeTruncate(tokenID, tokenIDLogLength))
	return nil
}

// copyToken returns a copy of the token with claims decrypted.
func copyToken(token *storage.Token, encryptor *security.Encryptor) (*storage.Token, error) {
	tokenCopy := *token

	if encryptor != nil && encryptor.IsEnabled() && token.Extra != nil {
		decrypted, err := storage.DecryptExtraFields(token.Extra, encryptor)
		if err != nil {
			return nil, err
		}
		tokenCopy.Extra = decrypted
	}

	return &tokenCopy, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, authCode := range s.codes {
		if security.IsExpired(authCode.ExpiresAt) {
			delete(s.codes, code)
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}

	for tokenID, token := range s.tokens {
		if security.IsExpired(token.ExpiresAt) {
			delete(s.tokens, tokenID)
			s.tokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
