package models

import (
	"math/big"
	"strings"
	"time"
)

// BalanceSnapshot is the last observed balance and nonce of an address.
// Snapshots are replaced, never merged.
type BalanceSnapshot struct {
	Address     string    `json:"address"`
	Wei         *big.Int  `json:"wei"`
	Ether       string    `json:"ether"`
	Nonce       uint64    `json:"nonce"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	AsOf        time.Time `json:"asOf"`
}

// TransferRequest is the pending outbound payment entered by the user.
type TransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// TransferRecord is one history item as returned by the indexer.
type TransferRecord struct {
	UniqueID string           `json:"uniqueId"`
	Hash     string           `json:"hash"`
	From     string           `json:"from"`
	To       string           `json:"to"`
	Value    *float64         `json:"value"`
	Asset    string           `json:"asset,omitempty"`
	Category TransferCategory `json:"category"`
	BlockNum string           `json:"blockNum,omitempty"`
}

// Direction classifies the record relative to address.
func (r TransferRecord) Direction(address string) Direction {
	if address == "" {
		return DirectionUnknown
	}
	toSelf := strings.EqualFold(r.To, address)
	fromSelf := strings.EqualFold(r.From, address)
	switch {
	case toSelf && fromSelf:
		return DirectionSelf
	case toSelf:
		return DirectionReceived
	case fromSelf:
		return DirectionSent
	}
	return DirectionUnknown
}

// Transfers holds the two directional history sequences. They are not
// deduplicated: a self-transfer appears in both.
type Transfers struct {
	Incoming []TransferRecord `json:"incomingTransfers"`
	Outgoing []TransferRecord `json:"outgoingTransfers"`
}

// AssetTransferQuery is the parameter object of alchemy_getAssetTransfers.
type AssetTransferQuery struct {
	FromBlock        string             `json:"fromBlock"`
	FromAddress      string             `json:"fromAddress,omitempty"`
	ToAddress        string             `json:"toAddress,omitempty"`
	Category         []TransferCategory `json:"category"`
	ExcludeZeroValue *bool              `json:"excludeZeroValue,omitempty"`
}

// TransferStatus is the terminal state of an outbound transfer.
type TransferStatus string

const (
	TransferSucceeded TransferStatus = "succeeded"
	TransferFailed    TransferStatus = "failed"
)

// TransferEvent is emitted when an outbound transfer reaches a terminal state.
type TransferEvent struct {
	ID          string         `json:"id"`
	From        string         `json:"from"`
	To          string         `json:"to"`
	Amount      string         `json:"amount"`
	Status      TransferStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	TxHash      string         `json:"txHash,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	ExplorerURL string         `json:"explorerUrl,omitempty"`
}
