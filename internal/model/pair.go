package model

// TokenInfo references a fungible-token contract.
type TokenInfo struct {
	ContractAddr string `json:"contract_addr"`
}

// NativeTokenInfo references a native denomination.
type NativeTokenInfo struct {
	Denom string `json:"denom"`
}

// AssetInfo is either a token contract or a native denom. Exactly one field is set.
type AssetInfo struct {
	Token       *TokenInfo       `json:"token,omitempty"`
	NativeToken *NativeTokenInfo `json:"native_token,omitempty"`
}

// TokenAsset builds an AssetInfo for a token contract.
func TokenAsset(contractAddr string) AssetInfo {
	return AssetInfo{Token: &TokenInfo{ContractAddr: contractAddr}}
}

// NativeAsset builds an AssetInfo for a native denom.
func NativeAsset(denom string) AssetInfo {
	return AssetInfo{NativeToken: &NativeTokenInfo{Denom: denom}}
}

// Address returns the plain string identifier of the asset.
func (a AssetInfo) Address() string {
	if a.Token != nil {
		return a.Token.ContractAddr
	}
	if a.NativeToken != nil {
		return a.NativeToken.Denom
	}
	return ""
}

// IsNative reports whether the asset is a native denom.
func (a AssetInfo) IsNative() bool {
	return a.Token == nil && a.NativeToken != nil
}

// Pair is a trading pair as returned by the factory contract, enriched with
// the normalized asset addresses.
type Pair struct {
	AssetInfos     [2]AssetInfo `json:"asset_infos"`
	ContractAddr   string       `json:"contract_addr"`
	LiquidityToken string       `json:"liquidity_token"`
	AssetDecimals  []uint8      `json:"asset_decimals,omitempty"`
	AssetAddresses [2]string    `json:"asset_addresses"`
}

// NormalizePair derives AssetAddresses from AssetInfos, preserving order.
func NormalizePair(p Pair) Pair {
	p.AssetAddresses = [2]string{p.AssetInfos[0].Address(), p.AssetInfos[1].Address()}
	return p
}

// HasAsset reports whether either leg of the pair is address.
func (p Pair) HasAsset(address string) bool {
	return p.AssetAddresses[0] == address || p.AssetAddresses[1] == address
}

// Counterpart returns the other leg of the pair for address.
func (p Pair) Counterpart(address string) (string, bool) {
	switch address {
	case p.AssetAddresses[0]:
		return p.AssetAddresses[1], true
	case p.AssetAddresses[1]:
		return p.AssetAddresses[0], true
	}
	return "", false
}
