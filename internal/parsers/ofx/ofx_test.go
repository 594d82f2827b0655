package ofx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/florin-systems/finflow/internal/domain"
	"github.com/florin-systems/finflow/internal/parser"
)

const bankStatement = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS><CODE>0<SEVERITY>INFO</STATUS>
<DTSERVER>20240331120000
<LANGUAGE>ENG
<FI><ORG>Capital One<FID>1001</FI>
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS><CODE>0<SEVERITY>INFO</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM><BANKID>031176110<ACCTID>123456789<ACCTTYPE>CHECKING</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240301
<DTEND>20240331
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240315
<TRNAMT>-5.75
<FITID>T1
<NAME>STARBUCKS #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240316
<TRNAMT>2500.00
<FITID>T2
<NAME>PAYROLL ACME
<MEMO>Direct deposit
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL><BALAMT>2494.25<DTASOF>20240331</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

func testMetadata(t *testing.T) *parser.Metadata {
	t.Helper()
	meta, err := parser.NewMetadata("/statements/capital_one/checking/march.ofx", time.Now())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return meta
}

func TestName(t *testing.T) {
	p := NewParser()
	if got := p.Name(); got != "ofx" {
		t.Errorf("Name() = %q, want %q", got, "ofx")
	}
}

func TestCanParse(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		header   string
		expected bool
	}{
		{"v1 SGML header", "stmt.ofx", "OFXHEADER:100\nDATA:OFXSGML", true},
		{"qfx extension", "stmt.qfx", "OFXHEADER:100", true},
		{"v2 XML header", "stmt.ofx", `<?xml version="1.0"?><?OFX OFXHEADER="200"?>`, true},
		{"bare OFX tag", "stmt.ofx", "<OFX>", true},
		{"csv file", "stmt.csv", "OFXHEADER:100", false},
		{"no markers", "stmt.ofx", "date,name,amount", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser()
			if got := p.CanParse(tt.path, []byte(tt.header)); got != tt.expected {
				t.Errorf("CanParse() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParse_BankStatement(t *testing.T) {
	p := NewParser()
	candidates, err := p.Parse(context.Background(), strings.NewReader(bankStatement), testMetadata(t))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}

	charge := candidates[0]
	if charge.Row != 1 {
		t.Errorf("Row = %d, want 1", charge.Row)
	}
	if charge.Date != "2024-03-15" {
		t.Errorf("Date = %q", charge.Date)
	}
	if charge.Description != "STARBUCKS #1234" {
		t.Errorf("Description = %q", charge.Description)
	}
	if amt := decimal.RequireFromString(charge.Amount); !amt.Equal(decimal.RequireFromString("-5.75")) {
		t.Errorf("Amount = %q", charge.Amount)
	}
	if charge.Type != string(domain.TypeDebit) {
		t.Errorf("Type = %q", charge.Type)
	}
	if charge.AccountMask != "6789" {
		t.Errorf("AccountMask = %q", charge.AccountMask)
	}
	if charge.SourceFile != "/statements/capital_one/checking/march.ofx" {
		t.Errorf("SourceFile = %q", charge.SourceFile)
	}

	deposit := candidates[1]
	if amt := decimal.RequireFromString(deposit.Amount); !amt.Equal(decimal.RequireFromString("2500")) {
		t.Errorf("Amount = %q", deposit.Amount)
	}
	if deposit.Type != string(domain.TypeCredit) {
		t.Errorf("Type = %q", deposit.Type)
	}
	if deposit.Note != "Direct deposit" {
		t.Errorf("Note = %q", deposit.Note)
	}
}

func TestParse_AccountNameFallsBackToAccountID(t *testing.T) {
	p := NewParser()
	candidates, err := p.Parse(context.Background(), strings.NewReader(bankStatement), testMetadata(t))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if candidates[0].AccountName != "123456789" {
		t.Errorf("AccountName = %q, want account ID fallback", candidates[0].AccountName)
	}

	meta := testMetadata(t)
	meta.SetAccountName("Everyday Checking")
	candidates, err = p.Parse(context.Background(), strings.NewReader(bankStatement), meta)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if candidates[0].AccountName != "Everyday Checking" {
		t.Errorf("AccountName = %q, want metadata name", candidates[0].AccountName)
	}
}

func TestParse_InvalidContent(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(context.Background(), strings.NewReader("this is not an OFX file"), testMetadata(t))
	if err == nil {
		t.Fatal("Expected error for invalid content")
	}
}

func TestParse_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewParser()
	_, err := p.Parse(ctx, strings.NewReader(bankStatement), testMetadata(t))
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestMapTransactionType(t *testing.T) {
	tests := []struct {
		txn  ofxgo.Transaction
		want string
	}{
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeCredit}, string(domain.TypeCredit)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeDebit}, string(domain.TypeDebit)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypePOS}, string(domain.TypeDebit)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeATM}, string(domain.TypeDebit)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeCheck}, string(domain.TypeDebit)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeFee}, string(domain.TypeDebit)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypePayment}, string(domain.TypeDebit)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeXfer}, string(domain.TypeTransfer)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeInt}, string(domain.TypeIncome)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeDep}, string(domain.TypeIncome)},
		{ofxgo.Transaction{TrnType: ofxgo.TrnTypeOther}, ""},
	}
	for _, tt := range tests {
		if got := mapTransactionType(tt.txn); got != tt.want {
			t.Errorf("mapTransactionType(%v) = %q, want %q", tt.txn.TrnType, got, tt.want)
		}
	}
}

func TestMaskAccountID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123456789", "6789"},
		{"1234", "1234"},
		{"12", "12"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := maskAccountID(tt.in); got != tt.want {
			t.Errorf("maskAccountID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
