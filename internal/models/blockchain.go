package models

// TransferCategory classifies a value movement reported by the indexer.
type TransferCategory string

const (
	CategoryExternal TransferCategory = "external"
	CategoryInternal TransferCategory = "internal"
	CategoryERC20    TransferCategory = "erc20"
	CategoryERC721   TransferCategory = "erc721"
	CategoryERC1155  TransferCategory = "erc1155"
)

func (c TransferCategory) String() string {
	return string(c)
}

// Direction of a transfer relative to the wallet address.
type Direction string

const (
	DirectionSelf     Direction = "Self"
	DirectionReceived Direction = "Received"
	DirectionSent     Direction = "Sent"
	DirectionUnknown  Direction = "Unknown"
)
