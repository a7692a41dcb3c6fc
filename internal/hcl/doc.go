// Package hcl provides the HCL implementation of the study file loader and
// writer defined in the `config` package. It owns file discovery, the HCL
// schema, expression evaluation and translation into the format-agnostic
// model.
//
// A study file looks like:
//
//	repository  = "${env.HOME}/cases"
//	destination = "/scratch/runs"
//
//	study "channel" {
//	  tags = ["fast"]
//
//	  case "laminar" {
//	    n_procs       = 4
//	    expected_time = "00:30"
//
//	    compare {
//	      threshold = "1e-8"
//	    }
//	  }
//
//	  case "turbulent" {
//	    run_id  = "restart"
//	    depends = "channel/laminar/RESU/run1"
//	  }
//
//	  postpro "plot_profiles" {
//	    args = "-v"
//	  }
//	}
package hcl
