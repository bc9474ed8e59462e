package handler

import "diligence/internal/protocol"

// ProtocolListResponse is the body of GET /v1/protocols.
type ProtocolListResponse struct {
	Protocols []ProtocolSummary `json:"protocols"`
	Count     int               `json:"count"`
}

type ProtocolSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Aliases  []string `json:"aliases"`
}

func toProtocolList(entries []protocol.Identity) ProtocolListResponse {
	out := ProtocolListResponse{Protocols: make([]ProtocolSummary, 0, len(entries))}
	for _, e := range entries {
		aliases := e.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		out.Protocols = append(out.Protocols, ProtocolSummary{
			ID:       e.CanonicalID,
			Name:     e.DisplayName,
			Category: e.Category,
			Aliases:  aliases,
		})
	}
	out.Count = len(out.Protocols)
	return out
}
