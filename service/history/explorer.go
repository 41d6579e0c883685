package history

import "net/url"

// ExplorerURL returns the public explorer link for a transaction signature.
// Networks other than mainnet are passed as the cluster query parameter.
func ExplorerURL(signature, network string) string {
	u := "https://explorer.solana.com/tx/" + url.PathEscape(signature)
	switch network {
	case "", "mainnet", "mainnet-beta":
		return u
	default:
		return u + "?cluster=" + url.QueryEscape(network)
	}
}
