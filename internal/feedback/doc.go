// Package feedback collects the results workers publish on the response
// topic. A Collector logs every result and can append its wire form, one
// record per line, to a durable log. ReadLog parses such a log back into
// results for offline inspection.
package feedback
