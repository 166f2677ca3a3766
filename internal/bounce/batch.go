package bounce

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailprobe/internal/models"
	"mailprobe/internal/settings"
)

var batchHeader = []string{"Email", "Status", "Timestamp", "Sender"}

// Verifier implements bulk send-and-wait verification: mail every
// address in a batch, then classify by which addresses bounced.
type Verifier struct {
	dir string
	log *zap.Logger

	mu       sync.Mutex
	accounts []settings.SMTPAccount
	rotation int

	// Overridable for tests.
	send func(acct settings.SMTPAccount, to, subject string) error
	poll func(acct settings.SMTPAccount, log *zap.Logger) ([]string, error)
}

func NewVerifier(dir string, accounts []settings.SMTPAccount, log *zap.Logger) (*Verifier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("batch dir: %w", err)
	}
	return &Verifier{
		dir:      dir,
		log:      log,
		accounts: accounts,
		send:     sendVerification,
		poll:     pollBounces,
	}, nil
}

// SetAccounts swaps the sending accounts, used on settings reload.
func (v *Verifier) SetAccounts(accounts []settings.SMTPAccount) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accounts = accounts
}

func (v *Verifier) nextAccount() (settings.SMTPAccount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.accounts) == 0 {
		return settings.SMTPAccount{}, models.NewProbeError(models.ErrConfigMissing,
			fmt.Errorf("no SMTP accounts configured"))
	}
	acct := v.accounts[v.rotation%len(v.accounts)]
	v.rotation++
	return acct, nil
}

func (v *Verifier) batchPath(batchID string) string {
	return filepath.Join(v.dir, batchID+".csv")
}

// StartBatch sends a verification message to every address, rotating
// among the configured accounts, and records the sends in the batch
// file.
func (v *Verifier) StartBatch(addresses []string) (string, error) {
	if _, err := v.nextAccount(); err != nil {
		return "", err
	}

	batchID := fmt.Sprintf("batch_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
	subject := "Email Verification - " + batchID

	f, err := os.Create(v.batchPath(batchID))
	if err != nil {
		return "", fmt.Errorf("batch file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(batchHeader); err != nil {
		return "", err
	}

	for _, addr := range addresses {
		acct, err := v.nextAccount()
		if err != nil {
			return "", err
		}

		status := "sent"
		if err := v.send(acct, addr, subject); err != nil {
			status = "failed"
			v.log.Warn("verification send failed",
				zap.String("address", addr), zap.Error(err))
		}
		row := []string{addr, status, time.Now().Format(time.RFC3339), acct.Address}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	v.log.Info("bounce batch started",
		zap.String("batch_id", batchID),
		zap.Int("addresses", len(addresses)))
	return batchID, nil
}

// batchRows reads the batch file back.
func (v *Verifier) batchRows(batchID string) ([][]string, error) {
	f, err := os.Open(v.batchPath(batchID))
	if err != nil {
		return nil, fmt.Errorf("unknown batch %s: %w", batchID, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		rows = rows[1:]
	}
	return rows, nil
}

// ProcessResponses polls every account inbox for bounces and classifies
// the batch: a bounced address is invalid, everything else that was
// sent successfully is valid.
func (v *Verifier) ProcessResponses(batchID string) (map[string]models.ProbeOutcome, error) {
	rows, err := v.batchRows(batchID)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	accounts := append([]settings.SMTPAccount(nil), v.accounts...)
	v.mu.Unlock()

	bounced := make(map[string]struct{})
	for _, acct := range accounts {
		failed, err := v.poll(acct, v.log)
		if err != nil {
			v.log.Warn("bounce poll failed",
				zap.String("account", acct.Address), zap.Error(err))
			continue
		}
		for _, addr := range failed {
			bounced[strings.ToLower(addr)] = struct{}{}
		}
	}

	out := make(map[string]models.ProbeOutcome, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		addr := row[0]
		if row[1] != "sent" {
			out[addr] = models.ProbeOutcome{
				Kind:   models.OutcomeError,
				Reason: "Verification message could not be sent",
			}
			continue
		}
		if _, hit := bounced[strings.ToLower(addr)]; hit {
			out[addr] = models.ProbeOutcome{
				Kind:   models.OutcomeDefinitiveInvalid,
				Reason: "Delivery failed (bounce received)",
			}
		} else {
			out[addr] = models.ProbeOutcome{
				Kind:   models.OutcomeDefinitiveValid,
				Reason: "No bounce received within window",
			}
		}
	}
	return out, nil
}

// BatchStatus summarizes one batch file.
func (v *Verifier) BatchStatus(batchID string) (map[string]int, error) {
	rows, err := v.batchRows(batchID)
	if err != nil {
		return nil, err
	}
	status := map[string]int{"total": len(rows), "sent": 0, "failed": 0}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		status[row[1]]++
	}
	return status, nil
}

// Batches lists the known batch ids, newest first by name.
func (v *Verifier) Batches() ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "batch_") && strings.HasSuffix(name, ".csv") {
			ids = append(ids, strings.TrimSuffix(name, ".csv"))
		}
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}
