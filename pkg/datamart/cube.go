package datamart

// Cube descriptor types: the logical star schema rendered in the format the
// external analytical browser imports. The engine only emits this structure;
// it never executes analytical queries.

type CubeModel struct {
	Dimensions []CubeDimension `json:"dimensions"`
	Cubes      []Cube          `json:"cubes"`
}

type CubeDimension struct {
	Name        string          `json:"name"`
	Label       string          `json:"label"`
	Description string          `json:"description"`
	Levels      []CubeLevel     `json:"levels"`
	Hierarchies []CubeHierarchy `json:"hierarchies"`
}

type CubeLevel struct {
	Name       string          `json:"name"`
	Attributes []CubeAttribute `json:"attributes"`
}

type CubeAttribute struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

type CubeHierarchy struct {
	Name   string   `json:"name"`
	Levels []string `json:"levels"`
}

type Cube struct {
	Name       string            `json:"name"`
	Label      string            `json:"label"`
	Dimensions []string          `json:"dimensions"`
	Measures   []CubeMeasure     `json:"measures"`
	Joins      []CubeJoin        `json:"joins"`
	Mappings   map[string]string `json:"mappings"`
	Aggregates []Aggregate       `json:"aggregates"`
}

type CubeMeasure struct {
	Name string `json:"name"`
}

type CubeJoin struct {
	Master CubeJoinRef `json:"master"`
	Detail CubeJoinRef `json:"detail"`
}

type CubeJoinRef struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Aggregate is a per-fact-table aggregate specification, passed through to
// the analytical engine untouched.
type Aggregate struct {
	Name     string `json:"name"`
	Function string `json:"function"`
	Measure  string `json:"measure"`
}

// DescribeDimension renders a dimension's cube descriptor fragment.
func DescribeDimension(d Dimension) CubeDimension {
	levels := d.CubeLevels()
	levelNames := make([]string, 0, len(levels))
	for _, l := range levels {
		levelNames = append(levelNames, l.Name)
	}
	return CubeDimension{
		Name:        d.Name(),
		Label:       d.Name(),
		Description: d.Description(),
		Levels:      levels,
		Hierarchies: []CubeHierarchy{{Name: "default", Levels: levelNames}},
	}
}
