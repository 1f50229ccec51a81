package cassandra

import (
	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// gocql binds its own UUID type; both are [16]byte.

func toCQL(id uuid.UUID) gocql.UUID {
	return gocql.UUID(id)
}

func fromCQL(id gocql.UUID) uuid.UUID {
	return uuid.UUID(id)
}

func toCQLSet(ids []uuid.UUID) []gocql.UUID {
	out := make([]gocql.UUID, len(ids))
	for i, id := range ids {
		out[i] = toCQL(id)
	}
	return out
}

func fromCQLSet(ids []gocql.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[i] = fromCQL(id)
	}
	return out
}

func toCQLMap(m map[uuid.UUID]string) map[gocql.UUID]string {
	if m == nil {
		return nil
	}
	out := make(map[gocql.UUID]string, len(m))
	for k, v := range m {
		out[toCQL(k)] = v
	}
	return out
}

func fromCQLMap(m map[gocql.UUID]string) map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(m))
	for k, v := range m {
		out[fromCQL(k)] = v
	}
	return out
}

// nullable maps the zero UUID to a CQL null
func nullable(id *uuid.UUID) interface{} {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return toCQL(*id)
}
