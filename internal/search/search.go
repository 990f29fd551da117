package search

// Result is a single search hit returned to the caller.
type Result struct {
	TaskUUID   string `json:"task_uuid"`
	Name       string `json:"name"`
	Snippet    string `json:"snippet"`
	ColumnUUID string `json:"column_uuid"`
	BoardUUID  string `json:"board_uuid"`
}

// Query describes a search request. OwnerID is mandatory: hits never cross owners.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ColumnUUID  string `json:"columnUuid"`
	BoardUUID   string `json:"boardUuid"`
	OwnerID     string `json:"ownerId"`
}

const defaultLimit = 20

func limitOf(q Query) int {
	if q.Limit <= 0 || q.Limit > 100 {
		return defaultLimit
	}
	return q.Limit
}
