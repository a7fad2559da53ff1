// Package gcs implements the reliable delivery layer used to replicate cache events
// between nodes: timer driven retransmission of outstanding sequence numbers and
// acknowledgement windows for unicast and multicast sends.
//
// Components:
//   - Interval: backoff sequences. StaticInterval repeats its final value, ExponentialInterval
//     doubles up to a cap.
//   - TimeScheduler: runs recurring Tasks on one goroutine. A task is re-scheduled with its
//     next interval after every run until it reports itself cancelled.
//   - Retransmitter: tracks ranges of missing sequence numbers of one sender and asks for
//     them again on every timeout. Ranges shrink and split as numbers arrive.
//   - AckSenderWindow: unicast sender window with sliding window admission control.
//     Messages above the window are queued and released once enough acks arrive.
//   - AckMcastSenderWindow: multicast sender window that keeps one ack flag per destination.
//     Suspected members are pruned so they never block completion.
//   - Group: per destination unicast windows plus one multicast window over a Transport.
//
// Retransmission never fails. It stops on acknowledgement, suspicion pruning, Reset or
// Stop. Retransmit callbacks run on the scheduler goroutine and must not block.
package gcs
