package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/SponsorLens/sponsorlens-mvp/pkg/repo"
)

// newBrandRepo creates a Neo4j-backed repository for Brand nodes, keyed by
// brand name.
func newBrandRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Brand, string] {
	return repo.NewNeo4jRepo[Brand, string](
		driver,
		"Brand",
		brandToMap,
		brandFromRecord,
		repo.WithIDKey[Brand, string]("name"),
	)
}

func brandToMap(b Brand) map[string]any {
	return map[string]any{
		"name":    b.Name,
		"website": b.Website,
	}
}

func brandFromRecord(rec *neo4j.Record) (Brand, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Brand{}, err
	}
	return brandFromProps(node.Props), nil
}

func brandFromProps(props map[string]any) Brand {
	return Brand{
		Name:    strProp(props, "name"),
		Website: strProp(props, "website"),
	}
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
