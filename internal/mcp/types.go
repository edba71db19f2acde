package mcp

// Tool argument and result payloads. The SDK derives the JSON schemas for
// tool registration from these structs.

type CreateIndexArgs struct {
	Name           string `json:"name" jsonschema:"Name of the index,required"`
	Dim            int    `json:"dim" jsonschema:"Dimensionality of the vectors,required"`
	M              int    `json:"m,omitempty" jsonschema:"Target out-degree per node (default 5)"`
	EfConstruction int    `json:"ef_construction,omitempty" jsonschema:"Candidate list size during insertion (default 200)"`
}

type CreateIndexResult struct {
	Name string `json:"name"`
}

// IndexSummary mirrors one index's attributes in list_indexes output.
type IndexSummary struct {
	Name           string `json:"name"`
	Dim            int    `json:"dim"`
	M              int    `json:"m"`
	EfConstruction int    `json:"ef_construction"`
	NodeCount      int    `json:"node_count"`
	Precision      string `json:"precision"`
}

type ListIndexesResult struct {
	Indexes []IndexSummary `json:"indexes"`
}

type AddVectorArgs struct {
	Index  string    `json:"index" jsonschema:"Index to insert into,required"`
	Name   string    `json:"name" jsonschema:"Unique node name,required"`
	Vector []float32 `json:"vector" jsonschema:"Vector components; length must match the index dim,required"`
}

type AddVectorResult struct {
	Name string `json:"name"`
}

type GetVectorArgs struct {
	Index string `json:"index" jsonschema:"required"`
	Name  string `json:"name" jsonschema:"required"`
}

type GetVectorResult struct {
	Name   string    `json:"name"`
	Vector []float32 `json:"vector"`
	Layer  int       `json:"layer"`
}

type DeleteVectorArgs struct {
	Index string `json:"index" jsonschema:"required"`
	Name  string `json:"name" jsonschema:"required"`
}

type DeleteVectorResult struct {
	Name string `json:"name"`
}

type SearchArgs struct {
	Index string    `json:"index" jsonschema:"Index to search,required"`
	Query []float32 `json:"query" jsonschema:"Query vector; length must match the index dim,required"`
	K     int       `json:"k,omitempty" jsonschema:"Number of neighbors to return (default 5)"`
}

type SearchHit struct {
	Name string `json:"name"`
	// Distance is the squared Euclidean distance (smaller = closer).
	Distance float64 `json:"distance"`
}

type SearchResult struct {
	Hits []SearchHit `json:"hits"`
}
