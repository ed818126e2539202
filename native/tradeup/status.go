package tradeup

// StatusAt derives the chain status from a ledger snapshot and the supplied
// clock value. It is a pure function: the same snapshot and timestamp always
// yield the same result, and nothing is cached.
//
// Precedence, first match wins:
//  1. last record matches the final spec (exact or wildcard) -> succeeded;
//     success must dominate expiry so a last-second qualifying deposit wins.
//  2. now at or past expiry -> expired; expiry dominates the start check so
//     misdirected deposits remain redeemable once time runs out.
//  3. empty ledger -> inactive.
//  4. first record equals the starting spec exactly -> active.
//  5. otherwise inactive.
func StatusAt(params ChainParams, deposits []*Deposit, now int64) ChainStatus {
	if n := len(deposits); n > 0 {
		last := deposits[n-1]
		if last != nil && params.Final.Matches(last.Class, last.AssetID) {
			return ChainSucceeded
		}
	}
	if now >= params.ExpiresAt {
		return ChainExpired
	}
	if len(deposits) == 0 {
		return ChainInactive
	}
	first := deposits[0]
	if first != nil && params.Start.Equals(first.Class, first.AssetID) {
		return ChainActive
	}
	return ChainInactive
}
