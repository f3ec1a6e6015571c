package parser

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
)

// OFXParser reads OFX and QFX bank and credit card statements.
type OFXParser struct{}

func NewOFXParser() *OFXParser {
	return &OFXParser{}
}

func (p *OFXParser) Parse(ctx context.Context, in Input) (Result, error) {
	res := Result{Format: FormatOFX}

	resp, err := ofxgo.ParseResponse(bytes.NewReader(in.Data))
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("invalid OFX document: %v", err))
		return res, nil
	}

	var lists []*ofxgo.TransactionList
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			lists = append(lists, stmt.BankTranList)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			lists = append(lists, stmt.BankTranList)
		}
	}

	n := 0
	for _, list := range lists {
		for _, tx := range list.Transactions {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			n++
			rec, err := convertOFX(tx)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("transaction %d: %v", n, err))
				continue
			}
			rec.Line = n
			res.Records = append(res.Records, rec)
		}
	}
	return res, nil
}

func convertOFX(tx ofxgo.Transaction) (*repository.ParsedTransaction, error) {
	if tx.DtPosted.IsZero() {
		return nil, fmt.Errorf("missing posting date")
	}

	amount, err := decimal.NewFromString(tx.TrnAmt.FloatString(4))
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	payee := string(tx.Name)
	if tx.Payee != nil && tx.Payee.Name != "" {
		payee = string(tx.Payee.Name)
	}

	return &repository.ParsedTransaction{
		Date:        normalizer.Day(tx.DtPosted.Time),
		Payee:       normalizer.CleanPayee(payee),
		Memo:        normalizer.CleanPayee(string(tx.Memo)),
		AmountMinor: amount.Shift(2).Round(0).IntPart(),
		ExternalID:  string(tx.FiTID),
		Source:      FormatOFX,
	}, nil
}
