package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/embercore/launcher-core/src/config"
	"github.com/embercore/launcher-core/src/launchererr"
)

// accountsDocument is the on-disk shape of accounts.json: non-secret
// profile data only, per §4.6 step 5 — refresh tokens never appear
// here and live in secretstore instead.
type accountsDocument struct {
	ActiveAccountUUID string    `json:"active_account_uuid"`
	Accounts          []Account `json:"accounts"`
}

// AccountSet is the in-memory, disk-backed catalog of signed-in
// accounts, protected by a single lock per §5.
type AccountSet struct {
	mu   sync.Mutex
	path string
	doc  accountsDocument
}

// LoadAccountSet reads accounts.json if present, or returns an empty
// catalog if it doesn't exist yet.
func LoadAccountSet(paths *config.Paths) (*AccountSet, error) {
	set := &AccountSet{path: paths.AccountsFile()}

	body, err := os.ReadFile(set.path)
	if os.IsNotExist(err) {
		return set, nil
	}
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Filesystem, "read accounts.json", err)
	}
	if err := json.Unmarshal(body, &set.doc); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse accounts.json", err)
	}
	return set, nil
}

func (s *AccountSet) save() error {
	body, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return launchererr.Wrap(launchererr.Schema, "marshal accounts.json", err)
	}
	if err := config.EnsureDir(filepath.Dir(s.path)); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, body, 0o644); err != nil {
		return launchererr.Wrap(launchererr.Filesystem, "write accounts.json", err)
	}
	return nil
}

// Upsert adds account or replaces the existing entry with the same
// uuid, then persists the set.
func (s *AccountSet) Upsert(account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.doc.Accounts {
		if existing.UUID == account.UUID {
			s.doc.Accounts[i] = account
			return s.save()
		}
	}
	s.doc.Accounts = append(s.doc.Accounts, account)
	return s.save()
}

// SetActive marks uuid as the active account. It must already be
// present in the set.
func (s *AccountSet) SetActive(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.doc.Accounts {
		if existing.UUID == uuid {
			s.doc.ActiveAccountUUID = uuid
			return s.save()
		}
	}
	return launchererr.New(launchererr.NotFound, "no such account: "+uuid)
}

// Active returns the active account, or false if none is selected.
func (s *AccountSet) Active() (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.ActiveAccountUUID == "" {
		return Account{}, false
	}
	for _, existing := range s.doc.Accounts {
		if existing.UUID == s.doc.ActiveAccountUUID {
			return existing, true
		}
	}
	return Account{}, false
}

// All returns a copy of every known account.
func (s *AccountSet) All() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Account, len(s.doc.Accounts))
	copy(out, s.doc.Accounts)
	return out
}

// Remove deletes uuid from the set and clears the active selection if
// it pointed at the removed account. Does not touch the secret store;
// callers should also call secretstore.Delete(uuid).
func (s *AccountSet) Remove(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.doc.Accounts[:0]
	for _, existing := range s.doc.Accounts {
		if existing.UUID != uuid {
			filtered = append(filtered, existing)
		}
	}
	s.doc.Accounts = filtered
	if s.doc.ActiveAccountUUID == uuid {
		s.doc.ActiveAccountUUID = ""
	}
	return s.save()
}
