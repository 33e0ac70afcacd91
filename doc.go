// Package bbq implements an embedded, file-backed job queue for a single
// host process.
//
// Producers enqueue messages into named Queues. Workers register named Jobs
// that consume messages from a chosen Queue and run a user callback with
// retries, timeouts, and bounded concurrency; ScheduleJobs are the
// time-triggered variant, firing on cron-like patterns instead of queue
// messages. All Queue state is persisted under a root directory so it
// survives a process restart, and message payloads may optionally be
// encrypted at rest.
//
// A typical program constructs one Dispatcher, calls Setup, then creates
// Queues and Workers against it:
//
//	d := bbq.NewDispatcher(bbq.DispatcherOptions{Path: "./data/bbq"})
//	if err := d.Setup(); err != nil {
//		log.Fatal(err)
//	}
//	q, err := d.CreateQueue("emails", bbq.QueueOptions{})
//	w, err := d.CreateWorker("mailer", bbq.WorkerOptions{})
//	_, err = w.CreateJob("send", "emails", bbq.InProcessCallback(sendEmail), bbq.JobOptions{Retry: 2})
//	_, err = q.AddMessage(map[string]any{"to": "a@example.com"})
package bbq
