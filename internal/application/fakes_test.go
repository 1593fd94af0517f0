package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/receiptdrop/mailrelay/internal/domain/model"
	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCredentialStore is an in-memory CredentialStore keyed the same way the
// sqlite adapter is.
type fakeCredentialStore struct {
	mu          sync.Mutex
	creds       map[string]*model.Credential // key: userID|provider|addressHash
	updateCalls int
	upsertCalls int
	listErr     error
	updateErr   error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[string]*model.Credential)}
}

func credKey(userID, provider, hash string) string { return userID + "|" + provider + "|" + hash }

func (s *fakeCredentialStore) Upsert(_ context.Context, cred *model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	c := *cred
	s.creds[credKey(cred.UserID, cred.Provider, cred.AddressHash)] = &c
	return nil
}

func (s *fakeCredentialStore) ListByUser(_ context.Context, userID, provider string) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Credential
	for _, c := range s.creds {
		if c.UserID == userID && c.Provider == provider {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeCredentialStore) GetByAddressHash(_ context.Context, userID, provider, addressHash string) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[credKey(userID, provider, addressHash)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *fakeCredentialStore) UpdateAccessToken(_ context.Context, userID, provider, addressHash, accessToken string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}
	if c, ok := s.creds[credKey(userID, provider, addressHash)]; ok {
		c.AccessToken = accessToken
		c.Expiry = expiry
	}
	return nil
}

func (s *fakeCredentialStore) Delete(_ context.Context, userID, provider, addressHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey(userID, provider, addressHash)
	if _, ok := s.creds[key]; !ok {
		return false, nil
	}
	delete(s.creds, key)
	return true, nil
}

// fakeOAuth scripts the OAuth provider.
type fakeOAuth struct {
	refreshed    *driven.Token
	refreshErr   error
	refreshCalls int

	exchanged   *driven.Token
	exchangeErr error
	identity    string
	identityErr error
}

func (o *fakeOAuth) AuthCodeURL(state string) string {
	return "https://auth.example.com/consent?state=" + state
}

func (o *fakeOAuth) Exchange(context.Context, string) (*driven.Token, error) {
	if o.exchangeErr != nil {
		return nil, o.exchangeErr
	}
	return o.exchanged, nil
}

func (o *fakeOAuth) Refresh(context.Context, *model.Credential) (*driven.Token, error) {
	o.refreshCalls++
	if o.refreshErr != nil {
		return nil, o.refreshErr
	}
	return o.refreshed, nil
}

func (o *fakeOAuth) Identity(context.Context, string) (string, error) {
	if o.identityErr != nil {
		return "", o.identityErr
	}
	return o.identity, nil
}

// fakeMailbox serves scripted raw messages. fetchErr entries override messages.
type fakeMailbox struct {
	mu        sync.Mutex
	messages  map[string][]byte
	fetchErr  map[string]error
	summaries []model.MessageSummary
	searchErr error
	lastQuery model.SearchQuery
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{messages: make(map[string][]byte), fetchErr: make(map[string]error)}
}

func (m *fakeMailbox) Search(_ context.Context, _ *model.Session, q model.SearchQuery) ([]model.MessageSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = q
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.summaries, nil
}

func (m *fakeMailbox) FetchRaw(_ context.Context, _ *model.Session, messageID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fetchErr[messageID]; ok {
		return nil, err
	}
	raw, ok := m.messages[messageID]
	if !ok {
		return nil, driven.ErrMessageNotFound
	}
	return raw, nil
}

// fakeRelay records deliveries and can fail per message id, either forever or
// for the first N attempts. It also tracks the peak number of concurrent
// Deliver calls.
type fakeRelay struct {
	mu         sync.Mutex
	delivered  []string
	attempts   map[string]int
	failWith   map[string]error // fail every attempt once failFirst is spent
	failFirst  map[string]int   // fail this many attempts transiently first
	transient  error
	delay      time.Duration
	inFlight   atomic.Int64
	peakcalls  atomic.Int64
	deliverTos []string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		attempts:  make(map[string]int),
		failWith:  make(map[string]error),
		failFirst: make(map[string]int),
		transient: &driven.TransientError{Err: context.DeadlineExceeded},
	}
}

func (r *fakeRelay) Deliver(_ context.Context, _, to string, _ []byte, messageID string) error {
	cur := r.inFlight.Add(1)
	for {
		peak := r.peakcalls.Load()
		if cur <= peak || r.peakcalls.CompareAndSwap(peak, cur) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	defer r.inFlight.Add(-1)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[messageID]++
	if n := r.failFirst[messageID]; n > 0 {
		r.failFirst[messageID] = n - 1
		return r.transient
	}
	if err, ok := r.failWith[messageID]; ok {
		return err
	}
	r.delivered = append(r.delivered, messageID)
	r.deliverTos = append(r.deliverTos, to)
	return nil
}

func (r *fakeRelay) peak() int64 { return r.peakcalls.Load() }

// fakeLedger is an in-memory DedupLedger.
type fakeLedger struct {
	mu       sync.Mutex
	marked   map[string]map[string]bool // userID -> id set
	checkErr error
	markErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{marked: make(map[string]map[string]bool)}
}

func (l *fakeLedger) AlreadyForwarded(_ context.Context, userID string, ids []string) (map[string]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checkErr != nil {
		return nil, l.checkErr
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = l.marked[userID][id]
	}
	return out, nil
}

func (l *fakeLedger) MarkForwarded(_ context.Context, userID string, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return l.markErr
	}
	set := l.marked[userID]
	if set == nil {
		set = make(map[string]bool)
		l.marked[userID] = set
	}
	for _, id := range ids {
		set[id] = true
	}
	return nil
}

func (l *fakeLedger) CountForUser(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.marked[userID]), nil
}

func (l *fakeLedger) PurgeUser(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := int64(len(l.marked[userID]))
	delete(l.marked, userID)
	return n, nil
}

// fakeLinkStore is an in-memory ConfirmLinkStore.
type fakeLinkStore struct {
	mu    sync.Mutex
	links map[string]*model.ConfirmLink // key: userID|id
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{links: make(map[string]*model.ConfirmLink)}
}

func (s *fakeLinkStore) Insert(_ context.Context, link *model.ConfirmLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *link
	s.links[link.UserID+"|"+link.ID] = &cp
	return nil
}

func (s *fakeLinkStore) Get(_ context.Context, userID, id string) (*model.ConfirmLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[userID+"|"+id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *fakeLinkStore) Delete(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "|" + id
	if _, ok := s.links[key]; !ok {
		return false, nil
	}
	delete(s.links, key)
	return true, nil
}

// fakeConfirmer records visited URLs.
type fakeConfirmer struct {
	mu      sync.Mutex
	visited []string
	err     error
}

func (c *fakeConfirmer) Confirm(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.visited = append(c.visited, url)
	return nil
}

// Compile-time port checks for the fakes.
var (
	_ driven.CredentialStore  = (*fakeCredentialStore)(nil)
	_ driven.OAuthProvider    = (*fakeOAuth)(nil)
	_ driven.MailboxProvider  = (*fakeMailbox)(nil)
	_ driven.RelayTransport   = (*fakeRelay)(nil)
	_ driven.DedupLedger      = (*fakeLedger)(nil)
	_ driven.ConfirmLinkStore = (*fakeLinkStore)(nil)
	_ driven.LinkConfirmer    = (*fakeConfirmer)(nil)
)
