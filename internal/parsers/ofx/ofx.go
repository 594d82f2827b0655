// Package ofx provides OFX/QFX statement parsing for finflow
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/parser"
)

// Parser implements OFX/QFX parsing with a stateless design, safe for
// concurrent use without locking. All behavior is determined by the OFX
// file content and optional Metadata.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
// Safe for concurrent use due to stateless design.
func NewParser() *Parser {
	return parserInstance
}

// getFileInfo returns a formatted file path string for error messages
func getFileInfo(meta *parser.Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return fmt.Sprintf(" from %s", meta.FilePath())
	}
	return ""
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ofx" && ext != ".qfx" {
		return false
	}

	// Look for OFX header markers (both v1 SGML and v2 XML formats)
	headerUpper := strings.ToUpper(string(header))
	return strings.Contains(headerUpper, "OFXHEADER") ||
		strings.Contains(headerUpper, "<?OFX") ||
		strings.Contains(headerUpper, "<OFX>")
}

// Parse extracts candidate rows from an OFX/QFX file.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) ([]*domain.Candidate, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content%s: %w", getFileInfo(meta), err)
	}

	// ofxgo.ParseResponse does not support context cancellation, so this
	// check only catches cancellation between file read and parsing.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file%s (%d bytes): %w", getFileInfo(meta), len(content), err)
	}

	if len(response.CreditCard) > 0 {
		return p.parseCreditCard(response, meta)
	}
	if len(response.Bank) > 0 {
		return p.parseBank(response, meta)
	}
	if len(response.InvStmt) > 0 {
		return p.parseInvestment(response, meta)
	}

	return nil, fmt.Errorf("no supported statement type found in OFX file%s (creditcard: %d, bank: %d, investment: %d)",
		getFileInfo(meta), len(response.CreditCard), len(response.Bank), len(response.InvStmt))
}

// parseCreditCard parses a credit card statement
func (p *Parser) parseCreditCard(resp *ofxgo.Response, meta *parser.Metadata) ([]*domain.Candidate, error) {
	ccStmt, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
	if !ok {
		return nil, fmt.Errorf("failed to type assert credit card statement: expected *ofxgo.CCStatementResponse, got %T", resp.CreditCard[0])
	}

	accountID := ccStmt.CCAcctFrom.AcctID.String()
	if accountID == "" {
		return nil, fmt.Errorf("missing account ID in credit card statement")
	}
	if ccStmt.BankTranList == nil {
		return nil, fmt.Errorf("missing transaction list in credit card statement")
	}

	return p.candidates(ccStmt.BankTranList.Transactions, accountID, meta)
}

// parseBank parses a bank account statement
func (p *Parser) parseBank(resp *ofxgo.Response, meta *parser.Metadata) ([]*domain.Candidate, error) {
	bankStmt, ok := resp.Bank[0].(*ofxgo.StatementResponse)
	if !ok {
		return nil, fmt.Errorf("failed to type assert bank statement: expected *ofxgo.StatementResponse, got %T", resp.Bank[0])
	}

	accountID := bankStmt.BankAcctFrom.AcctID.String()
	if accountID == "" {
		return nil, fmt.Errorf("missing account ID in bank statement")
	}
	if bankStmt.BankTranList == nil {
		return nil, fmt.Errorf("missing transaction list in bank statement")
	}

	return p.candidates(bankStmt.BankTranList.Transactions, accountID, meta)
}

// parseInvestment parses the cash movements of an investment statement.
// Security transactions (BuyStock, SellStock, ReinvestIncome, etc.) are not
// supported; only dividends, interest, and fees flow through.
func (p *Parser) parseInvestment(resp *ofxgo.Response, meta *parser.Metadata) ([]*domain.Candidate, error) {
	invStmt, ok := resp.InvStmt[0].(*ofxgo.InvStatementResponse)
	if !ok {
		return nil, fmt.Errorf("failed to type assert investment statement: expected *ofxgo.InvStatementResponse, got %T", resp.InvStmt[0])
	}

	accountID := invStmt.InvAcctFrom.AcctID.String()
	if accountID == "" {
		return nil, fmt.Errorf("missing account ID in investment statement")
	}
	if invStmt.InvTranList == nil {
		return nil, fmt.Errorf("missing transaction list in investment statement")
	}

	if n := len(invStmt.InvTranList.InvTransactions); n > 0 {
		return nil, fmt.Errorf("investment statement contains %d security transactions which are not supported; only cash movements (dividends, interest, fees) are parsed", n)
	}

	var candidates []*domain.Candidate
	for _, invBankTxn := range invStmt.InvTranList.BankTransactions {
		batch, err := p.candidates(invBankTxn.Transactions, accountID, meta)
		if err != nil {
			return nil, err
		}
		// Renumber rows across sub-lists so each candidate stays unique.
		for _, c := range batch {
			c.Row = len(candidates) + 1
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// candidates converts OFX transactions to import candidates
func (p *Parser) candidates(txns []ofxgo.Transaction, accountID string, meta *parser.Metadata) ([]*domain.Candidate, error) {
	candidates := make([]*domain.Candidate, 0, len(txns))
	for i, txn := range txns {
		c, err := extractCandidate(txn, accountID, meta)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction at index %d: %w", i, err)
		}
		c.Row = i + 1
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// extractCandidate extracts common transaction fields from an OFX transaction
func extractCandidate(txn ofxgo.Transaction, accountID string, meta *parser.Metadata) (*domain.Candidate, error) {
	id := txn.FiTID.String()
	if id == "" {
		return nil, fmt.Errorf("transaction missing required ID field")
	}

	// Use posted date; if not available, fall back to user date
	date := txn.DtPosted.Time
	if date.IsZero() {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return nil, fmt.Errorf("transaction %s missing both posted date and user date", id)
	}

	// Use Name field for description; if empty, fall back to Memo field
	description := strings.TrimSpace(txn.Name.String())
	memo := strings.TrimSpace(txn.Memo.String())
	if description == "" {
		description = memo
		memo = ""
	}
	if description == "" {
		return nil, fmt.Errorf("transaction %s missing both name and memo fields", id)
	}

	c := &domain.Candidate{
		Date:        date.Format(domain.DateLayout),
		Description: description,
		Amount:      txn.TrnAmt.String(),
		Type:        mapTransactionType(txn),
		Note:        memo,
		AccountMask: maskAccountID(accountID),
	}
	if meta != nil {
		c.SourceFile = meta.FilePath()
		c.AccountName = meta.AccountName()
	}
	if c.AccountName == "" {
		c.AccountName = accountID
	}
	return c, nil
}

// mapTransactionType maps an OFX transaction type to the internal enum.
// Types without a clean mapping are left empty so the amount sign decides.
func mapTransactionType(txn ofxgo.Transaction) string {
	switch txn.TrnType {
	case ofxgo.TrnTypeCredit:
		return string(domain.TypeCredit)
	case ofxgo.TrnTypeDebit, ofxgo.TrnTypePOS, ofxgo.TrnTypeATM, ofxgo.TrnTypeCheck, ofxgo.TrnTypeFee, ofxgo.TrnTypePayment:
		return string(domain.TypeDebit)
	case ofxgo.TrnTypeXfer:
		return string(domain.TypeTransfer)
	case ofxgo.TrnTypeInt, ofxgo.TrnTypeDep:
		return string(domain.TypeIncome)
	default:
		return ""
	}
}

// maskAccountID keeps the last four characters of the account number.
func maskAccountID(accountID string) string {
	if len(accountID) <= 4 {
		return accountID
	}
	return accountID[len(accountID)-4:]
}
