package config

type StorageDriver int

const (
	Sqlite StorageDriver = iota + 1
	Postgres
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Sqlite:
		return "sqlite"
	case Postgres:
		return "postgres"
	}
	return "unknown"
}
