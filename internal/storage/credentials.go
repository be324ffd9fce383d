package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

var ErrNoCredential = errors.New("admin credential not found")

// Credentials is the admin credential file: a JSON array of
// {username, password_hash}, rewritten wholesale on change.
type Credentials struct {
	mu    sync.Mutex
	path  string
	users map[string]AdminCredential
}

// OpenCredentials loads the credential file at path; a missing file is empty.
func OpenCredentials(path string) (*Credentials, error) {
	c := &Credentials{path: path, users: make(map[string]AdminCredential)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var list []AdminCredential
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	for _, cred := range list {
		c.users[cred.Username] = cred
	}
	return c, nil
}

func (c *Credentials) save() error {
	list := make([]AdminCredential, 0, len(c.users))
	for _, cred := range c.users {
		list = append(list, cred)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := writeFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Get returns the credential for username.
func (c *Credentials) Get(username string) (*AdminCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.users[username]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", username, ErrNoCredential)
	}
	return &cred, nil
}

// Put creates or replaces a credential and persists the file.
func (c *Credentials) Put(cred AdminCredential) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.users[cred.Username]
	c.users[cred.Username] = cred
	if err := c.save(); err != nil {
		if had {
			c.users[cred.Username] = prev
		} else {
			delete(c.users, cred.Username)
		}
		return err
	}
	return nil
}

// EnsureDefault seeds the credential file with username/passwordHash when it
// holds no credentials at all. It reports whether a credential was written.
func (c *Credentials) EnsureDefault(username, passwordHash string) (bool, error) {
	c.mu.Lock()
	empty := len(c.users) == 0
	c.mu.Unlock()
	if !empty {
		return false, nil
	}
	if err := c.Put(AdminCredential{Username: username, PasswordHash: passwordHash}); err != nil {
		return false, err
	}
	return true, nil
}
