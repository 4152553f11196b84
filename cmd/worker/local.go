package main

import "os"

func localBody() string {
	if body := os.Getenv("LOCAL_SQS_BODY"); body != "" {
		return body
	}
	return `{"order_id":"local-order-1","reason":"local test"}`
}
