package settings

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SMTPAccount is one sending/receiving identity used by the bounce
// verifier. Password is kept encrypted at rest.
type SMTPAccount struct {
	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	IMAPHost string `json:"imap_host"`
	IMAPPort int    `json:"imap_port"`
	Address  string `json:"address"`
	Password string `json:"-"`
}

type storedAccount struct {
	SMTPHost          string `json:"smtp_host"`
	SMTPPort          int    `json:"smtp_port"`
	IMAPHost          string `json:"imap_host"`
	IMAPPort          int    `json:"imap_port"`
	Address           string `json:"address"`
	EncryptedPassword string `json:"encrypted_password"`
}

type settingsFile struct {
	Values   map[string]string `json:"values"`
	Accounts []storedAccount   `json:"accounts"`
	Proxies  []string          `json:"proxies"`
	Browsers []string          `json:"browsers"`
}

// Service is the file-backed settings store: key/value tunables, SMTP
// accounts with encrypted credentials, proxies, browsers, and the
// domain blacklist/whitelist kept as CSVs next to the result files.
type Service struct {
	path    string
	dataDir string
	key     *[32]byte
	log     *zap.Logger

	mu        sync.RWMutex
	values    map[string]string
	accounts  []SMTPAccount
	proxies   []string
	browsers  []string
	blacklist map[string]struct{}
	whitelist map[string]struct{}
}

// Load reads the settings file and the domain lists. A missing settings
// file yields an empty service; every getter then returns its default.
func Load(path, dataDir string, key *[32]byte, log *zap.Logger) (*Service, error) {
	s := &Service{
		path:    path,
		dataDir: dataDir,
		key:     key,
		log:     log,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads settings and domain lists from disk.
func (s *Service) Reload() error {
	values := make(map[string]string)
	var accounts []SMTPAccount
	var proxies, browsers []string

	data, err := os.ReadFile(s.path)
	if err == nil {
		var f settingsFile
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("settings file: %w", err)
		}
		if f.Values != nil {
			values = f.Values
		}
		proxies = f.Proxies
		browsers = f.Browsers
		for _, a := range f.Accounts {
			acct := SMTPAccount{
				SMTPHost: a.SMTPHost,
				SMTPPort: a.SMTPPort,
				IMAPHost: a.IMAPHost,
				IMAPPort: a.IMAPPort,
				Address:  a.Address,
			}
			if a.EncryptedPassword != "" && s.key != nil {
				pw, err := open(s.key, a.EncryptedPassword)
				if err != nil {
					s.log.Warn("skipping account with undecryptable password",
						zap.String("address", a.Address), zap.Error(err))
					continue
				}
				acct.Password = pw
			}
			accounts = append(accounts, acct)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("settings file: %w", err)
	}

	blacklist := s.loadDomainList(filepath.Join(s.dataDir, "D-blacklist.csv"))
	whitelist := s.loadDomainList(filepath.Join(s.dataDir, "D-WhiteList.csv"))

	s.mu.Lock()
	s.values = values
	s.accounts = accounts
	s.proxies = proxies
	s.browsers = browsers
	s.blacklist = blacklist
	s.whitelist = whitelist
	s.mu.Unlock()

	s.log.Info("settings loaded",
		zap.Int("keys", len(values)),
		zap.Int("accounts", len(accounts)),
		zap.Int("blacklisted", len(blacklist)),
		zap.Int("whitelisted", len(whitelist)))
	return nil
}

func (s *Service) loadDomainList(path string) map[string]struct{} {
	out := make(map[string]struct{})
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		s.log.Warn("domain list unreadable", zap.String("path", path), zap.Error(err))
		return out
	}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		d := strings.ToLower(strings.TrimSpace(row[0]))
		if d == "" || d == "domain" {
			continue
		}
		out[d] = struct{}{}
	}
	return out
}

// Get returns a string setting or the default.
func (s *Service) Get(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok && v != "" {
		return v
	}
	return def
}

// GetInt returns an integer setting or the default.
func (s *Service) GetInt(key string, def int) int {
	v := s.Get(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// IsEnabled interprets a setting as a boolean; absent keys default to
// the given fallback.
func (s *Service) IsEnabled(key string, def bool) bool {
	v := strings.ToLower(s.Get(key, ""))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// Set stores a key/value pair and persists the file.
func (s *Service) Set(key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return s.save()
}

// SMTPAccounts returns the configured accounts with decrypted passwords.
func (s *Service) SMTPAccounts() []SMTPAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SMTPAccount(nil), s.accounts...)
}

// AddSMTPAccount stores an account, encrypting its password.
func (s *Service) AddSMTPAccount(acct SMTPAccount) error {
	if s.key == nil {
		return fmt.Errorf("no settings key configured, refusing to store credentials")
	}
	s.mu.Lock()
	s.accounts = append(s.accounts, acct)
	s.mu.Unlock()
	return s.save()
}

// Proxies returns the configured proxy URLs.
func (s *Service) Proxies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.proxies...)
}

// Browsers returns the configured browser names for the login probe.
func (s *Service) Browsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.browsers) == 0 {
		return []string{"chromium"}
	}
	return append([]string(nil), s.browsers...)
}

// IsBlacklisted reports whether the domain is on the blacklist.
func (s *Service) IsBlacklisted(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blacklist[strings.ToLower(domain)]
	return ok
}

// IsWhitelisted reports whether the domain is on the whitelist.
func (s *Service) IsWhitelisted(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.whitelist[strings.ToLower(domain)]
	return ok
}

func (s *Service) save() error {
	s.mu.RLock()
	f := settingsFile{
		Values:   s.values,
		Proxies:  s.proxies,
		Browsers: s.browsers,
	}
	for _, a := range s.accounts {
		stored := storedAccount{
			SMTPHost: a.SMTPHost,
			SMTPPort: a.SMTPPort,
			IMAPHost: a.IMAPHost,
			IMAPPort: a.IMAPPort,
			Address:  a.Address,
		}
		if a.Password != "" && s.key != nil {
			enc, err := seal(s.key, a.Password)
			if err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("encrypt password: %w", err)
			}
			stored.EncryptedPassword = enc
		}
		f.Accounts = append(f.Accounts, stored)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
