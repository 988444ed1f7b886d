package main

import (
	"bufio"
	"flag"
	"os"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/calllist-service/internal/config"
)

// Usage example on the command line:
// > DBHOST=localhost:3306 DBUSER=dirk DBPWD=bullo92 go run main.go -file=../../scripts/database.sql
func main() {
	filePtr := flag.String("file", "database.sql", "the sql file to execute")
	envPtr := flag.String("env", ".env", "optional file with environment variables")
	flag.Parse()

	conf, err := config.Load(*envPtr)
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(conf.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := conf.MySQL.Connect()
	if err != nil {
		logger.Fatal("could not connect to database", zap.Error(err))
	}
	defer db.Close()

	readFile, err := os.Open(*filePtr) // nosemgrep
	if err != nil {
		logger.Fatal("could not open sql file", zap.String("file", *filePtr), zap.Error(err))
	}
	defer readFile.Close()

	fileScanner := bufio.NewScanner(readFile)
	fileScanner.Split(bufio.ScanLines)
	builder := strings.Builder{}
	statements := 0
	for fileScanner.Scan() {
		line := fileScanner.Text()
		builder.WriteString(line)
		builder.WriteString(" ")
		if strings.Contains(line, ";") {
			sql := builder.String()
			db.MustExec(sql)
			statements++
			builder = strings.Builder{}
		}
	}
	if err := fileScanner.Err(); err != nil {
		logger.Fatal("could not read sql file", zap.Error(err))
	}
	logger.Info("migration finished", zap.String("file", *filePtr), zap.Int("statements", statements))
}
