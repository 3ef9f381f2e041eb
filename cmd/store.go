package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/store/filestore"
	"github.com/giantswarm/agent-testing/internal/store/mysql"
)

const mysqlDSNEnv = "AGENT_TESTING_MYSQL_DSN"

type storeFlags struct {
	outputDir   string
	mysqlDSN    string
	tablePrefix string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "results", "Directory for test results")
	cmd.Flags().StringVar(&f.mysqlDSN, "mysql-dsn", "", "MySQL DSN for results (or set "+mysqlDSNEnv+"); overrides --output-dir")
	cmd.Flags().StringVar(&f.tablePrefix, "mysql-table-prefix", "", "Table name prefix for MySQL results")
}

// open returns the configured store and a function that releases it.
func (f *storeFlags) open() (store.Store, func() error, error) {
	dsn := f.mysqlDSN
	if dsn == "" {
		dsn = os.Getenv(mysqlDSNEnv)
	}

	if dsn == "" {
		fs, err := filestore.New(f.outputDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	}

	var opts []mysql.Option
	if f.tablePrefix != "" {
		opts = append(opts, mysql.WithTablePrefix(f.tablePrefix))
	}
	s, err := mysql.Open(dsn, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open MySQL store: %w", err)
	}
	return s, s.Close, nil
}
