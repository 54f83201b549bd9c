package model

// TradingPair is a pool discovered through a PairCreated event. Token
// symbol/name/decimals are best-effort and may be nil when the token contract
// does not answer metadata calls.
type TradingPair struct {
	ChainID        uint64  `json:"chain_id"`
	Address        string  `json:"address"`
	Token0         string  `json:"token0"`
	Token1         string  `json:"token1"`
	Token0Symbol   *string `json:"token0_symbol,omitempty"`
	Token1Symbol   *string `json:"token1_symbol,omitempty"`
	Token0Name     *string `json:"token0_name,omitempty"`
	Token1Name     *string `json:"token1_name,omitempty"`
	Token0Decimals *int32  `json:"token0_decimals,omitempty"`
	Token1Decimals *int32  `json:"token1_decimals,omitempty"`
	CreatedBlock   uint64  `json:"created_block"`
	CreatedTxHash  string  `json:"created_tx_hash"`
	CreatedAt      uint64  `json:"created_at"`
}

// DecimalsOrDefault returns the token decimals, assuming the ERC20 default of
// 18 when metadata is missing.
func (p TradingPair) DecimalsOrDefault() (int32, int32) {
	d0, d1 := int32(18), int32(18)
	if p.Token0Decimals != nil {
		d0 = *p.Token0Decimals
	}
	if p.Token1Decimals != nil {
		d1 = *p.Token1Decimals
	}
	return d0, d1
}
