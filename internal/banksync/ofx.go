package banksync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/zombor/caretrack/internal/expense"
)

var (
	severityFix = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags missing their closing bracket at end of line
	unclosedTag = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// genericNames are bank descriptions that say nothing about the merchant
var genericNames = map[string]bool{
	"POS PURCHASE":    true,
	"DEBIT CARD":      true,
	"CHECKCARD":       true,
	"PURCHASE":        true,
	"ACH DEBIT":       true,
	"ACH WITHDRAWAL":  true,
	"DEBIT PURCHASE":  true,
	"RECURRING DEBIT": true,
}

// ParseOFX reads an OFX or QFX statement export. Bank and credit card
// statements are both accepted.
func ParseOFX(r io.Reader) ([]expense.BankTransaction, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("parsing OFX file: %w", err)
	}

	var txs []expense.BankTransaction
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			txs = appendOFX(txs, string(stmt.BankAcctFrom.AcctID), stmt.BankTranList.Transactions)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			txs = appendOFX(txs, string(stmt.CCAcctFrom.AcctID), stmt.BankTranList.Transactions)
		}
	}

	slog.Info("Parsed OFX file", "transactions", len(txs))
	return txs, nil
}

func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityFix.ReplaceAllStringFunc(content, strings.ToUpper)
	return unclosedTag.ReplaceAllString(content, "$1>")
}

func appendOFX(txs []expense.BankTransaction, accountID string, list []ofxgo.Transaction) []expense.BankTransaction {
	for _, ofxTx := range list {
		tx, err := fromOFX(ofxTx, accountID)
		if err != nil {
			slog.Warn("Skipping OFX transaction", "fitid", ofxTx.FiTID, "account", accountID, "error", err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func fromOFX(ofxTx ofxgo.Transaction, accountID string) (expense.BankTransaction, error) {
	if ofxTx.FiTID == "" {
		return expense.BankTransaction{}, fmt.Errorf("missing FITID")
	}
	amount, err := decimal.NewFromString(ofxTx.TrnAmt.FloatString(2))
	if err != nil {
		return expense.BankTransaction{}, fmt.Errorf("parsing amount: %w", err)
	}

	name := strings.TrimSpace(string(ofxTx.Name))
	if ofxTx.Memo != "" && genericNames[strings.ToUpper(name)] {
		name = strings.TrimSpace(string(ofxTx.Memo))
	}

	var merchant string
	if ofxTx.Payee != nil {
		merchant = strings.TrimSpace(string(ofxTx.Payee.Name))
	}

	return expense.BankTransaction{
		ID:                     string(ofxTx.FiTID),
		AccountID:              accountID,
		AmountCents:            amount.Shift(2).IntPart(),
		PostedDate:             civil.DateOf(ofxTx.DtPosted.Time),
		RawDescription:         name,
		MerchantNameNormalized: merchant,
	}, nil
}

// OFXDirSource reads every .ofx and .qfx export in a directory
type OFXDirSource struct {
	dir string
}

// NewOFXDirSource creates a source over a download directory
func NewOFXDirSource(dir string) *OFXDirSource {
	return &OFXDirSource{dir: dir}
}

// Name identifies the source
func (s *OFXDirSource) Name() string {
	return "ofx:" + s.dir
}

// Fetch parses each export and keeps transactions posted in [start, end].
// Unreadable files are logged and skipped.
func (s *OFXDirSource) Fetch(ctx context.Context, start, end time.Time) ([]expense.BankTransaction, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading OFX directory: %w", err)
	}

	from, to := civil.DateOf(start), civil.DateOf(end)
	var txs []expense.BankTransaction
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".ofx" && ext != ".qfx") {
			continue
		}

		parsed, err := s.parseFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", entry.Name(), "error", err)
			continue
		}
		for _, tx := range parsed {
			if tx.PostedDate.Before(from) || tx.PostedDate.After(to) {
				continue
			}
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (s *OFXDirSource) parseFile(path string) ([]expense.BankTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseOFX(f)
}
