package faqtune

import (
	"math"
	"sync"
)

// encoderForward iterates through the batch/sequence and sums the word token
// embeddings with the position embeddings and the segment embeddings. Segment
// ids distinguish the query side of a pair from the candidate-reply side.
func encoderForward(out []float32, inp, segment []int32, wte, wpe, ste []float32, B, T, C int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			// Each output vector is C elements long.
			startOutIndex := b*T*C + t*C
			// inp holds token ids, each an index into wte.
			ix := inp[b*T+t]
			startWteIndex := ix * int32(C)
			// Position embeddings map directly by t.
			startWpeIndex := t * C
			// Segment id is 0 or 1 and indexes ste.
			seg := segment[b*T+t]
			startSteIndex := seg * int32(C)
			for i := 0; i < C; i++ {
				out[startOutIndex+i] = wte[startWteIndex+int32(i)] + wpe[startWpeIndex+i] + ste[startSteIndex+int32(i)]
			}
		}
	}
}

// encoderBackward accumulates gradients into the three embedding tables.
// dout is the gradient flowing back into the summed embedding.
func encoderBackward(dwte, dwpe, dste []float32, dout []float32, inp, segment []int32, B, T, C int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			doutBTOffset := b*T*C + t*C
			ix := inp[b*T+t]
			dwteIxOffset := ix * int32(C)
			dwpeTOffset := t * C
			seg := segment[b*T+t]
			dsteOffset := seg * int32(C)
			for i := 0; i < C; i++ {
				d := dout[doutBTOffset+i]
				dwte[dwteIxOffset+int32(i)] += d
				dwpe[dwpeTOffset+i] += d
				dste[dsteOffset+int32(i)] += d
			}
		}
	}
}

// attentionForward performs the bidirectional attention forward pass.
// input is (B, T, 3C) holding the query, key, value (Q, K, V) vectors.
// preatt, att are (B, NH, T, T); output is (B, T, C).
// mask is (B, T) with 1 for real tokens and 0 for padding; padded key
// positions are excluded from the softmax and receive zero attention.
// Unlike a decoder there is no causal restriction: every position may attend
// to every unpadded position in both directions.
func attentionForward(out, preatt, att, inp []float32, mask []int32, B, T, C, NH int) {
	C3 := C * 3  // dimensions of the concatenated query/key/value vectors
	hs := C / NH // head size
	scale := 1.0 / math.Sqrt(float64(hs))
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			for h := 0; h < NH; h++ {
				wg.Add(1)
				go func(b, t, h int) {
					defer wg.Done()
					query_t := inp[b*T*C3+t*C3+h*hs:] // inp[B][T][C3]
					preatt_bth := preatt[b*NH*T*T+h*T*T+t*T:]
					att_bth := att[b*NH*T*T+h*T*T+t*T:]
					// Pass 1: query dot key for every unpadded position, tracking max
					maxval := -10000.0
					for t2 := 0; t2 < T; t2++ {
						if mask[b*T+t2] == 0 {
							continue
						}
						key_t2 := inp[b*T*C3+t2*C3+h*hs+C:] // +C because it's key
						var val float64
						for i := 0; i < hs; i++ {
							val += float64(query_t[i]) * float64(key_t2[i])
						}
						val *= scale
						if val > maxval {
							maxval = val
						}
						preatt_bth[t2] = float32(val)
					}
					// Pass 2: exponentials, with the max subtracted for stability
					expsum := 0.0
					for t2 := 0; t2 < T; t2++ {
						if mask[b*T+t2] == 0 {
							continue
						}
						expv := math.Exp(float64(preatt_bth[t2]) - maxval)
						expsum += expv
						att_bth[t2] = float32(expv)
					}
					expsum_inv := 0.0
					if expsum != 0.0 {
						expsum_inv = 1.0 / expsum
					}
					// Pass 3: normalize to get the softmax; padded keys get zero
					for t2 := 0; t2 < T; t2++ {
						if mask[b*T+t2] == 1 {
							att_bth[t2] *= float32(expsum_inv)
						} else {
							att_bth[t2] = 0.0
						}
					}
					// Pass 4: accumulate weighted values into the output
					out_bth := out[b*T*C+t*C+h*hs:]
					for i := 0; i < hs; i++ {
						out_bth[i] = 0.0
					}
					for t2 := 0; t2 < T; t2++ {
						if mask[b*T+t2] == 0 {
							continue
						}
						value_t2 := inp[b*T*C3+t2*C3+h*hs+C*2:] // +C*2 because it's value
						att_btht2 := att_bth[t2]
						for i := 0; i < hs; i++ {
							out_bth[i] += att_btht2 * value_t2[i]
						}
					}
				}(b, t, h)
			}
		}
	}
	wg.Wait()
}

// attentionBackward performs the backward pass for the bidirectional attention.
// The t2 loops mirror the forward pass exactly: all unpadded positions, no
// causal cutoff.
func attentionBackward(dinp, dpreatt, datt, dout, inp, att []float32, mask []int32, B, T, C, NH int) {
	C3 := C * 3
	hs := C / NH // head size
	scale := float32(1.0 / math.Sqrt(float64(hs)))
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			for h := 0; h < NH; h++ {
				attBTH := att[b*NH*T*T+h*T*T+t*T:]
				dattBTH := datt[b*NH*T*T+h*T*T+t*T:]
				dpreattBTH := dpreatt[b*NH*T*T+h*T*T+t*T:]
				dqueryT := dinp[b*T*C3+t*C3+h*hs:]
				queryT := inp[b*T*C3+t*C3+h*hs:]

				// Backward pass 4: value accumulation
				doutBTH := dout[b*T*C+t*C+h*hs:]
				for t2 := 0; t2 < T; t2++ {
					if mask[b*T+t2] == 0 {
						continue
					}
					valueT2 := inp[b*T*C3+t2*C3+h*hs+C*2:]
					dvalueT2 := dinp[b*T*C3+t2*C3+h*hs+C*2:]
					for i := 0; i < hs; i++ {
						dattBTH[t2] += valueT2[i] * doutBTH[i]
						dvalueT2[i] += attBTH[t2] * doutBTH[i]
					}
				}
				// Backward pass 2 & 3: softmax backward.
				// Softmax does not require its input (preatt) to backward.
				for t2 := 0; t2 < T; t2++ {
					if mask[b*T+t2] == 0 {
						continue
					}
					for t3 := 0; t3 < T; t3++ {
						if mask[b*T+t3] == 0 {
							continue
						}
						indicator := float32(0.0)
						if t2 == t3 {
							indicator = 1.0
						}
						localDerivative := attBTH[t2] * (indicator - attBTH[t3])
						dpreattBTH[t3] += localDerivative * dattBTH[t2]
					}
				}
				// Backward pass 1: query @ key matmul
				for t2 := 0; t2 < T; t2++ {
					if mask[b*T+t2] == 0 {
						continue
					}
					keyT2 := inp[b*T*C3+t2*C3+h*hs+C:]
					dkeyT2 := dinp[b*T*C3+t2*C3+h*hs+C:]
					for i := 0; i < hs; i++ {
						dqueryT[i] += keyT2[i] * dpreattBTH[t2] * scale
						dkeyT2[i] += queryT[i] * dpreattBTH[t2] * scale
					}
				}
			}
		}
	}
}

// layernormForward normalises the activations at each position.
// both inp and out are (B,T,C); mean and rstd are (B,T) buffers kept for the
// backward pass. At each position the C-dimensional vector is normalized,
// then scaled and shifted.
func layernormForward(out, mean, rstd, inp, weight, bias []float32, B, T, C int) {
	var eps float64 = 1e-5
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			x := inp[b*T*C+t*C:]
			var m float64 = 0.0
			for i := 0; i < C; i++ {
				m += float64(x[i])
			}
			m /= float64(C)
			var v float64 = 0.0
			for i := 0; i < C; i++ {
				xshift := float64(x[i]) - m
				v += float64(xshift * xshift)
			}
			v /= float64(C)
			// reciprocal standard deviation
			s := float64(1.0) / math.Sqrt(float64(v)+eps)
			outBT := out[b*T*C+t*C:]
			for i := 0; i < C; i++ {
				n := float64(s) * (float64(x[i]) - m)
				o := float64(n*float64(weight[i]) + float64(bias[i]))
				outBT[i] = float32(o)
			}
			mean[b*T+t] = float32(m)
			rstd[b*T+t] = float32(s)
		}
	}
}

func layernormBackward(dinp, dweight, dbias, dout, inp, weight, mean, rstd []float32, B, T, C int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			baseIndex := b*T*C + t*C
			doutBT := dout[baseIndex : baseIndex+C]
			inpBT := inp[baseIndex : baseIndex+C]
			dinpBT := dinp[baseIndex : baseIndex+C]
			meanBT := mean[b*T+t]
			rstdBT := rstd[b*T+t]

			// Reduce operations
			var dnormMean float32 = 0.0
			var dnormNormMean float32 = 0.0
			for i := 0; i < C; i++ {
				normBTI := (inpBT[i] - meanBT) * rstdBT
				dnormI := weight[i] * doutBT[i]
				dnormMean += dnormI
				dnormNormMean += dnormI * normBTI
			}
			dnormMean /= float32(C)
			dnormNormMean /= float32(C)

			// Accumulation loop
			for i := 0; i < C; i++ {
				normBTI := (inpBT[i] - meanBT) * rstdBT
				dnormI := weight[i] * doutBT[i]
				dbias[i] += doutBT[i]
				dweight[i] += normBTI * doutBT[i]

				var dval float32
				dval += dnormI                  // Term 1
				dval -= dnormMean               // Term 2
				dval -= normBTI * dnormNormMean // Term 3
				dval *= rstdBT                  // Final scale

				dinpBT[i] += dval
			}
		}
	}
}

// matmulForward computes out = inp @ weight^T + bias at every (b,t) position.
// inp is (B,T,C), weight is (OC,C), bias is (OC) and out is (B,T,OC).
func matmulForward(out, inp, weight, bias []float32, B, T, C, OC int) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			wg.Add(1)
			go func(b, t int) {
				defer wg.Done()
				inp_bt := inp[b*T*C+t*C:]
				out_bt := out[b*T*OC+t*OC:]
				for o := 0; o < OC; o++ {
					var val float64
					if bias != nil {
						val = float64(bias[o])
					}
					wrow := weight[o*C:]
					for i := 0; i < C; i++ {
						val += float64(inp_bt[i]) * float64(wrow[i])
					}
					out_bt[o] = float32(val)
				}
			}(b, t)
		}
	}
	wg.Wait()
}

func matmulBackward(dinp, dweight, dbias, dout, inp, weight []float32, B, T, C, OC int) {
	// Backward into inp first
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			baseIndex := b*T*OC + t*OC
			doutBT := dout[baseIndex : baseIndex+OC]
			dinpBT := dinp[b*T*C+t*C : b*T*C+t*C+C]

			for o := 0; o < OC; o++ {
				wrow := weight[o*C : o*C+C]
				d := doutBT[o]
				for i := 0; i < C; i++ {
					dinpBT[i] += wrow[i] * d
				}
			}
		}
	}

	// Backward into weight/bias
	for o := 0; o < OC; o++ {
		for b := 0; b < B; b++ {
			for t := 0; t < T; t++ {
				baseIndex := b*T*OC + t*OC
				doutBT := dout[baseIndex : baseIndex+OC]
				inpBT := inp[b*T*C+t*C : b*T*C+t*C+C]
				dwrow := dweight[o*C : o*C+C]
				d := doutBT[o]

				if dbias != nil {
					dbias[o] += d
				}

				for i := 0; i < C; i++ {
					dwrow[i] += inpBT[i] * d
				}
			}
		}
	}
}

// clsPoolForward copies the hidden vector at the first position of every
// sequence into out. inp is (B,T,C), out is (B,C). The first position is the
// classification token, so the pair decision is read from there.
func clsPoolForward(out, inp []float32, B, T, C int) {
	for b := 0; b < B; b++ {
		copy(out[b*C:b*C+C], inp[b*T*C:b*T*C+C])
	}
}

func clsPoolBackward(dinp, dout []float32, B, T, C int) {
	for b := 0; b < B; b++ {
		for i := 0; i < C; i++ {
			dinp[b*T*C+i] += dout[b*C+i]
		}
	}
}

func tanhForward(out, inp []float32, n int) {
	for i := 0; i < n; i++ {
		out[i] = Tanh(inp[i])
	}
}

// tanhBackward uses the forward output: d/dx tanh(x) = 1 - tanh(x)^2.
func tanhBackward(dinp, out, dout []float32, n int) {
	for i := 0; i < n; i++ {
		dinp[i] += (1.0 - out[i]*out[i]) * dout[i]
	}
}

var GELU_SCALING_FACTOR = math.Sqrt(2.0 / math.Pi)

func geluForward(out, inp []float32, n int) {
	for i := 0; i < n; i++ {
		x := float64(inp[i])
		cube := 0.044715 * x * x * x
		out[i] = float32(0.5 * x * (1.0 + math.Tanh(GELU_SCALING_FACTOR*float64(x+cube))))
	}
}

// geluBackward computes the backward pass of the GeLU non-linearity
func geluBackward(dinp, inp, dout []float32, n int) {
	for i := 0; i < n; i++ {
		x := float64(inp[i])
		cube := 0.044715 * x * x * x
		tanh_arg := GELU_SCALING_FACTOR * float64(x+cube)
		tanh_out := math.Tanh(tanh_arg)
		coshf_out := math.Cosh(tanh_arg)
		sech_out := 1.0 / (coshf_out * coshf_out)
		local_grad := 0.5*(1.0+tanh_out) + x*0.5*sech_out*GELU_SCALING_FACTOR*(1.0+3.0*0.044715*x*x)
		dinp[i] += float32(local_grad) * dout[i]
	}
}

func residualForward(out, inp1, inp2 []float32, N int) {
	for i := 0; i < N; i++ {
		out[i] = inp1[i] + inp2[i]
	}
}

func residualBackward(dinp1, dinp2, dout []float32, N int) {
	for i := 0; i < N; i++ {
		dinp1[i] += dout[i]
		dinp2[i] += dout[i]
	}
}

// softmaxForward converts logits (B,K) into probabilities (B,K).
func softmaxForward(probs, logits []float32, B, K int) {
	for b := 0; b < B; b++ {
		logitsB := logits[b*K : b*K+K]
		probsB := probs[b*K : b*K+K]

		// Numerical stability
		maxval := float32(-10000.0)
		for i := 0; i < K; i++ {
			if logitsB[i] > maxval {
				maxval = logitsB[i]
			}
		}

		sum := 0.0
		for i := 0; i < K; i++ {
			probsB[i] = Exp(logitsB[i] - maxval)
			sum += float64(probsB[i])
		}

		for i := 0; i < K; i++ {
			probsB[i] /= float32(sum)
		}
	}
}

// crossEntropyForward computes the negative log probability of the target
// label for each example. probs is (B,K), targets is (B), losses is (B).
func crossEntropyForward(losses, probs []float32, targets []int32, B, K int) {
	for b := 0; b < B; b++ {
		startIndex := int32(b * K)
		ix := targets[b]
		prob := probs[startIndex+ix]
		losses[b] = -Log(prob)
	}
}

// crossentropySoftmaxBackward fuses the gradient of softmax and cross-entropy:
// dlogits = (probs - onehot(target)) * dloss.
func crossentropySoftmaxBackward(dlogits, dlosses, probs []float32, targets []int32, B, K int) {
	for b := 0; b < B; b++ {
		baseIndex := b * K
		dlogitsB := dlogits[baseIndex : baseIndex+K]
		probsB := probs[baseIndex : baseIndex+K]
		dloss := dlosses[b]
		ix := targets[b]

		for i := 0; i < K; i++ {
			p := probsB[i]
			var indicator float32
			if int32(i) == ix {
				indicator = 1.0
			}
			dlogitsB[i] += (p - indicator) * dloss
		}
	}
}
