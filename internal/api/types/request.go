package types

// HistoryRequest holds the single-window history query.
type HistoryRequest struct {
	Name    string `form:"name"`
	Minutes string `form:"minutes"`
}

// ServerHistoryRequest selects a resource of a server.
type ServerHistoryRequest struct {
	Server   string `form:"server"`
	Resource string `form:"resource"`
}
