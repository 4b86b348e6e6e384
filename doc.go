/*
Package linehouse is a client for databases that ingest the text line
protocol: one newline-terminated line per row, with a table name, escaped
tags, typed columns and an optional timestamp.

Rows are appended through a guarded builder and accumulate in a buffer of
complete lines. The buffer is delivered either over a raw or TLS-wrapped TCP
stream, or as HTTP POST requests with retry and backoff:

	sender, err := linehouse.New(linehouse.Config{
		Address:  "localhost:9000",
		Protocol: linehouse.ProtocolHTTP,
	})
	if err != nil {
		// ...
	}
	defer sender.Close()

	sender.Table("weather")
	sender.Symbol("city", "London")
	sender.Float64Column("temp", 23.5)
	sender.AtNow()

	if err := sender.Flush(); err != nil {
		// buffer is untouched, retry or inspect it
	}

Any error while building a row rolls the whole row back, so one bad row never
poisons the buffer. Delivery is at-least-once: an HTTP retry resends the same
bytes, and the TCP stream has no per-row acknowledgement.
*/
package linehouse
